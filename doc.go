// Package imgcas provides a content-addressed image store with
// deduplication, time-based retention and OCI registry backup.
//
// Uploads are validated, hashed and stored once per unique content. Every
// further upload of the same bytes bumps the object's reference count and
// returns the original logical id. Blobs live on disk under a date-sharded
// layout; records live in a single write-through metadata file.
//
// Basic usage:
//
//	eng, _ := imgcas.Open("~/.local/share/imgcas/blobs", "~/.local/share/imgcas/metadata.json")
//	defer eng.Close()
//
//	res, err := eng.Store(ctx, file, "cat.png", "image/png")
//	if errors.Is(err, imgcas.ErrValidation) {
//	    // rejected, err.Error() is the reason
//	}
//	fmt.Println(res.LogicalID, res.Duplicate())
//
//	// Remove everything older than a day
//	deleted := imgcas.NewSweeper(eng).RunSweep(ctx, time.Now(), 24*time.Hour)
//
//	// Check and fix blob/record drift
//	report, _ := eng.Verify(ctx, true)
//
// With remote backup:
//
//	eng.Push(ctx, "ghcr.io/acme/images-backup:nightly")
//	eng.Pull(ctx, "ghcr.io/acme/images-backup:nightly")
package imgcas
