package ingest

import (
	"net/http"
	"path/filepath"
	"strings"
)

// handlePlayback serves HLS artifacts. Only exact two-segment paths with
// playlist or segment extensions resolve; everything else, including any
// traversal attempt, is a 404.
func (l *Listener) handlePlayback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, hlsPrefix)
	segments := strings.Split(rest, "/")
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		http.NotFound(w, r)
		return
	}
	streamKey, file := segments[0], segments[1]
	if !validPlaybackName(streamKey) || !validPlaybackName(file) {
		http.NotFound(w, r)
		return
	}
	switch filepath.Ext(file) {
	case ".m3u8":
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	case ".ts":
		w.Header().Set("Content-Type", "video/mp2t")
	default:
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(l.mediaDir, streamKey, file))
}

func validPlaybackName(name string) bool {
	if name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}
