// Package consistent picks mirrors for a request with jump consistent hashing.
package consistent

import (
	"fmt"
	"slices"

	"github.com/dgryski/go-jump"
	"github.com/mitchellh/hashstructure/v2"
)

type routeKey struct {
	Key     any
	Attempt int
}

// HashBucket returns a bucket from [0,buckets). Buckets listed in excluded are
// never returned; HashBucket sorts the excluded slice in place.
func HashBucket(key any, buckets int, excluded ...int) (int, error) {
	if buckets < 1 {
		return -1, fmt.Errorf("invalid bucket count: %d", buckets)
	}
	if len(excluded) >= buckets {
		return -1, fmt.Errorf("no more buckets left: %d buckets available but %v already excluded", buckets, excluded)
	}
	// IgnoreZeroValue keeps hashes stable when fields are added to key types.
	// A HashOptions is not safe to share, so a fresh one is built every call.
	hashopts := &hashstructure.HashOptions{IgnoreZeroValue: true}
	hash, err := hashstructure.Hash(routeKey{Key: key, Attempt: len(excluded)}, hashstructure.FormatV2, hashopts)
	if err != nil {
		return -1, fmt.Errorf("error calculating hash of key: %w", err)
	}

	// jump is an implementation of Google's Jump Consistent Hash.
	//
	// See http://arxiv.org/abs/1406.2294 for details.
	bucket := int(jump.Hash(hash, buckets-len(excluded)))
	slices.Sort(excluded)
	for _, prev := range excluded {
		if bucket >= prev {
			bucket++
		}
	}
	return bucket, nil
}

// BucketForAttempt returns the bucket for the given zero-based attempt of key.
// Successive attempts visit distinct buckets until all have been tried, then
// the sequence starts over.
func BucketForAttempt(key any, buckets, attempt int) (int, error) {
	if buckets < 1 {
		return -1, fmt.Errorf("invalid bucket count: %d", buckets)
	}
	if attempt < 0 {
		attempt = 0
	}
	attempt %= buckets

	tried := make([]int, 0, attempt)
	for {
		bucket, err := HashBucket(key, buckets, slices.Clone(tried)...)
		if err != nil {
			return -1, err
		}
		if len(tried) == attempt {
			return bucket, nil
		}
		tried = append(tried, bucket)
	}
}
