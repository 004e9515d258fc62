package lode

import (
	"context"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// NewReadDataset opens a dataset with the same codec and layout as the
// write path.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewReadDatasetFS opens a read dataset on the filesystem.
func NewReadDatasetFS(dataset, rootPath string) (lode.Dataset, error) {
	return NewReadDataset(dataset, lode.NewFSFactory(rootPath))
}

// NewReadDatasetS3 opens a read dataset on S3.
func NewReadDatasetS3(ctx context.Context, dataset string, s3cfg S3Config) (lode.Dataset, error) {
	factory, err := NewS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewReadDataset(dataset, factory)
}

// snapshotHasKind reports whether any file in snap sits in the
// record_kind=<kind> partition.
func snapshotHasKind(snap *lode.Snapshot, kind string) bool {
	return snapshotMatchesFilter(snap, "record_kind", kind)
}

// snapshotMatchesFilter reports whether any file path in snap carries the
// exact key=value segment. An empty value matches everything.
func snapshotMatchesFilter(snap *lode.Snapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue matches whole path segments so session_id=s-1 does
// not match session_id=s-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for part := range strings.SplitSeq(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
