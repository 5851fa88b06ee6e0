// Package object implements the upload object store: a thin keyspace
// policy layer over blob storage. It owns the staging and final key
// conventions and nothing else.
//
// Key convention (bit-exact for cross-worker compatibility):
//
//	staging: {stagingPrefix}/{uploadId}/{filename}
//	final:   {finalPrefix}/{uploadId}/{filename}
//
// Filenames may contain arbitrary characters including path
// separators; they are stored verbatim, not sanitized.
package object

import (
	"context"
	"fmt"
	"time"

	"github.com/marmos91/pixstore/internal/logger"
	"github.com/marmos91/pixstore/pkg/blob"
	"github.com/marmos91/pixstore/pkg/upload"
)

const (
	// DefaultStagingPrefix receives client uploads.
	DefaultStagingPrefix = "staging"

	// DefaultFinalPrefix receives promoted variants.
	DefaultFinalPrefix = "final"

	// DefaultPresignExpiry is used when PresignInput.Expiry is zero.
	DefaultPresignExpiry = 15 * time.Minute
)

// Config holds the keyspace policy.
type Config struct {
	// Bucket is the blob bucket shared by staging and final keys.
	Bucket string

	// StagingPrefix and FinalPrefix carve the bucket into the two
	// disjoint-lifetime keyspaces.
	StagingPrefix string
	FinalPrefix   string

	// PresignExpiry is the default validity window for upload URLs.
	PresignExpiry time.Duration
}

func (c *Config) applyDefaults() {
	if c.StagingPrefix == "" {
		c.StagingPrefix = DefaultStagingPrefix
	}
	if c.FinalPrefix == "" {
		c.FinalPrefix = DefaultFinalPrefix
	}
	if c.PresignExpiry <= 0 {
		c.PresignExpiry = DefaultPresignExpiry
	}
}

// Store scopes a blob.Store to the upload keyspace.
type Store struct {
	blobs  blob.Store
	config Config
}

// New creates an object store over the given blob backend.
func New(blobs blob.Store, config Config) *Store {
	config.applyDefaults()
	return &Store{
		blobs:  blobs,
		config: config,
	}
}

// StagingLocation returns the staging address for an upload file.
func (s *Store) StagingLocation(id upload.ID, filename string) upload.StorageLocation {
	return upload.StorageLocation{
		Bucket: s.config.Bucket,
		Key:    s.config.StagingPrefix + "/" + string(id) + "/" + filename,
	}
}

// FinalLocation returns the final address for an upload file.
func (s *Store) FinalLocation(id upload.ID, filename string) upload.StorageLocation {
	return upload.StorageLocation{
		Bucket: s.config.Bucket,
		Key:    s.config.FinalPrefix + "/" + string(id) + "/" + filename,
	}
}

func toRef(loc upload.StorageLocation) blob.Ref {
	return blob.Ref{Bucket: loc.Bucket, Key: loc.Key}
}

// PresignInput carries the parameters for an upload URL.
type PresignInput struct {
	UploadID    upload.ID
	Filename    string
	ContentType string
	Expiry      time.Duration
}

// PresignedUpload is the issued URL plus the staging address it
// targets.
type PresignedUpload struct {
	URL       string
	Ref       upload.StorageLocation
	ExpiresAt time.Time
}

// GetPresignedUploadURL issues a presigned PUT URL for the staging key
// of the given upload file.
func (s *Store) GetPresignedUploadURL(ctx context.Context, in PresignInput) (*PresignedUpload, error) {
	expiry := in.Expiry
	if expiry <= 0 {
		expiry = s.config.PresignExpiry
	}

	loc := s.StagingLocation(in.UploadID, in.Filename)
	put, err := s.blobs.PresignPut(ctx, toRef(loc), blob.PresignOptions{
		ContentType: in.ContentType,
		Expiry:      expiry,
	})
	if err != nil {
		return nil, fmt.Errorf("presign upload %s: %w", in.UploadID, err)
	}

	return &PresignedUpload{
		URL:       put.URL,
		Ref:       loc,
		ExpiresAt: put.ExpiresAt,
	}, nil
}

// StagingObject is a staged upload with its payload.
type StagingObject struct {
	Location    upload.StorageLocation
	Data        []byte
	ContentType string
	SizeBytes   int64
}

// HeadStagingObject returns staging object metadata, or nil when the
// client has not uploaded yet.
func (s *Store) HeadStagingObject(ctx context.Context, id upload.ID, filename string) (*blob.Info, error) {
	info, err := s.blobs.Head(ctx, toRef(s.StagingLocation(id, filename)))
	if err != nil {
		return nil, fmt.Errorf("head staging object for %s: %w", id, err)
	}
	return info, nil
}

// GetStagingObject returns the staged upload, or nil when the client
// has not uploaded yet.
func (s *Store) GetStagingObject(ctx context.Context, id upload.ID, filename string) (*StagingObject, error) {
	loc := s.StagingLocation(id, filename)
	obj, err := s.blobs.Get(ctx, toRef(loc))
	if err != nil {
		return nil, fmt.Errorf("get staging object for %s: %w", id, err)
	}
	if obj == nil {
		return nil, nil
	}
	return &StagingObject{
		Location:    loc,
		Data:        obj.Data,
		ContentType: obj.ContentType,
		SizeBytes:   int64(len(obj.Data)),
	}, nil
}

// PutFinalObject writes data directly to the final key and returns its
// address.
func (s *Store) PutFinalObject(ctx context.Context, id upload.ID, filename string, data []byte, contentType string) (upload.StorageLocation, error) {
	loc := s.FinalLocation(id, filename)
	if err := s.blobs.Put(ctx, toRef(loc), data, contentType); err != nil {
		return upload.StorageLocation{}, fmt.Errorf("put final object for %s: %w", id, err)
	}
	return loc, nil
}

// Promotion reports a staging-to-final copy.
type Promotion struct {
	Staging upload.StorageLocation
	Final   upload.StorageLocation
}

// PromoteToFinal copies the staging object to its final key and then
// deletes the staging copy. A delete failure after a successful copy
// is logged and swallowed: the staging remnant is garbage-collected
// out-of-band, and the promotion has already succeeded.
func (s *Store) PromoteToFinal(ctx context.Context, id upload.ID, filename string, metadata map[string]string) (*Promotion, error) {
	staging := s.StagingLocation(id, filename)
	final := s.FinalLocation(id, filename)

	if err := s.blobs.Copy(ctx, toRef(staging), toRef(final), metadata); err != nil {
		return nil, fmt.Errorf("promote object for %s: %w", id, err)
	}

	if err := s.blobs.Delete(ctx, toRef(staging)); err != nil {
		logger.Warn("failed to delete staging object after promotion",
			logger.UploadID(string(id)),
			logger.Key(staging.Key),
			logger.Err(err),
		)
	}

	return &Promotion{Staging: staging, Final: final}, nil
}
