package storage

import (
	"context"
	"testing"

	"driftcast/internal/models"
)

func TestCreateVideoStartsPrivate(t *testing.T) {
	store := newTestStorage(t)
	asset, err := store.CreateVideo(context.Background(), CreateVideoParams{
		Title:      "Broadcast 2026-03-01",
		StreamKey:  "live_aaaaaaaaaaaaaaaaaaaaaaaa",
		SourcePath: "/captures/a.flv",
		MediaURL:   "/media/vods/a/master.m3u8",
		UploaderID: "user-1",
	})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	if asset.Status != models.VideoStatusPrivate {
		t.Fatalf("new asset status = %q, want private", asset.Status)
	}

	public, err := store.ListPublicVideos(context.Background())
	if err != nil {
		t.Fatalf("list public: %v", err)
	}
	if len(public) != 0 {
		t.Fatalf("private asset leaked into public listing: %d", len(public))
	}
}

func TestCreateVideoRejectsDuplicateSource(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	params := CreateVideoParams{
		Title:      "Broadcast",
		StreamKey:  "live_aaaaaaaaaaaaaaaaaaaaaaaa",
		SourcePath: "/captures/a.flv",
		MediaURL:   "/media/vods/a/master.m3u8",
	}
	if _, err := store.CreateVideo(ctx, params); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := store.CreateVideo(ctx, params); err != ErrConflict {
		t.Fatalf("duplicate create: got %v, want ErrConflict", err)
	}
}

func TestVideoVisibilityLifecycle(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	asset, err := store.CreateVideo(ctx, CreateVideoParams{
		Title: "clip", MediaURL: "/media/clip.m3u8", UploaderID: "user-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.PublicVideoByID(ctx, asset.ID); err != ErrNotFound {
		t.Fatalf("private asset visible publicly: %v", err)
	}

	published, err := store.SetVideoStatus(ctx, asset.ID, "user-1", models.VideoStatusPublic)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if published.Status != models.VideoStatusPublic {
		t.Fatalf("status = %q after publish", published.Status)
	}
	if _, err := store.PublicVideoByID(ctx, asset.ID); err != nil {
		t.Fatalf("published asset not visible: %v", err)
	}

	// Publishing again is a no-op.
	if _, err := store.SetVideoStatus(ctx, asset.ID, "user-1", models.VideoStatusPublic); err != nil {
		t.Fatalf("repeat publish: %v", err)
	}
}

func TestVideoMutationRequiresUploader(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	owned, err := store.CreateVideo(ctx, CreateVideoParams{
		Title: "mine", MediaURL: "/media/mine.m3u8", UploaderID: "user-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.SetVideoStatus(ctx, owned.ID, "user-2", models.VideoStatusPublic); err != ErrUnauthorized {
		t.Fatalf("foreign publish: got %v, want ErrUnauthorized", err)
	}
	if err := store.DeleteVideo(ctx, owned.ID, "user-2"); err != ErrUnauthorized {
		t.Fatalf("foreign delete: got %v, want ErrUnauthorized", err)
	}

	orphan, err := store.CreateVideo(ctx, CreateVideoParams{
		Title: "orphan", MediaURL: "/media/orphan.m3u8",
	})
	if err != nil {
		t.Fatalf("create orphan: %v", err)
	}
	if _, err := store.SetVideoStatus(ctx, orphan.ID, "user-1", models.VideoStatusPublic); err != ErrUnauthorized {
		t.Fatalf("ownerless publish: got %v, want ErrUnauthorized", err)
	}
	title := "renamed"
	if _, err := store.UpdateVideo(ctx, orphan.ID, "", VideoUpdate{Title: &title}); err != ErrUnauthorized {
		t.Fatalf("ownerless update with empty user: got %v, want ErrUnauthorized", err)
	}
}

func TestVideosByUploaderIncludesPrivate(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	for _, title := range []string{"one", "two"} {
		if _, err := store.CreateVideo(ctx, CreateVideoParams{
			Title: title, MediaURL: "/media/" + title, UploaderID: "user-1",
		}); err != nil {
			t.Fatalf("create %s: %v", title, err)
		}
	}
	mine, err := store.VideosByUploader(ctx, "user-1")
	if err != nil {
		t.Fatalf("list by uploader: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 assets, got %d", len(mine))
	}
	if mine[0].Title != "two" {
		t.Fatalf("expected newest first, got %q", mine[0].Title)
	}
	if others, _ := store.VideosByUploader(ctx, ""); len(others) != 0 {
		t.Fatalf("empty uploader matched %d assets", len(others))
	}
}

func TestDeleteVideoRemovesAsset(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	asset, err := store.CreateVideo(ctx, CreateVideoParams{
		Title: "gone", MediaURL: "/media/gone.m3u8", UploaderID: "user-1",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.DeleteVideo(ctx, asset.ID, "user-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := store.VideoByID(ctx, asset.ID); ok {
		t.Fatal("asset still present after delete")
	}
	if err := store.DeleteVideo(ctx, asset.ID, "user-1"); err != ErrNotFound {
		t.Fatalf("repeat delete: got %v, want ErrNotFound", err)
	}
}
