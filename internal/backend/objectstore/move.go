package objectstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	repobackend "github.com/bali-nebula/document-repository/internal/backend"
	"github.com/bali-nebula/document-repository/internal/repoerr"
)

// Move implements spec.md §9's corrected ordering: copy first, THEN delete
// the source, and only resolve once the delete has actually completed.
//
// The upstream lineage this design descends from resolved the equivalent
// promise before its delete completed, which could leave both the source
// and destination keys present if the delete failed afterward — spec.md
// §9 calls this out as an unintended bug. Here, moved=true is reported
// only when this call's own Delete observed the key as existing
// (existed=true); a delete reporting existed=false means a concurrent
// mover already claimed srcKey, so this caller loses the race and returns
// moved=false even though its own copy succeeded, leaving dstKey as a
// harmless duplicate that a later reader will find already held by the
// winner.
func (b *Backend) Move(ctx context.Context, location repobackend.Location, srcKey, dstKey string) (bool, error) {
	srcBucket, err := b.bucket(location)
	if err != nil {
		return false, err
	}

	present, err := b.Exists(ctx, location, srcKey)
	if err != nil {
		return false, err
	}
	if !present {
		return false, nil
	}

	_, err = b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(srcBucket),
		Key:        aws.String(dstKey),
		CopySource: aws.String(srcBucket + "/" + srcKey),
	})
	if err != nil {
		return false, repoerr.Wrap(repoerr.Backend, "objectstore.Move copy", err)
	}

	existed, err := b.Delete(ctx, location, srcKey)
	if err != nil {
		return false, err
	}
	if !existed {
		// A concurrent mover deleted srcKey first and therefore owns the
		// claim; this caller's copy is a harmless duplicate at dstKey.
		return false, nil
	}

	return true, nil
}
