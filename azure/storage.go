// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package azure

import (
	"context"
	"crypto/md5"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"

	"github.com/suse-enceladus/azimg/upload"
)

// ErrBlobExists is returned when an upload targets an existing blob
// and force replacement was not requested.
var ErrBlobExists = errors.New("blob already exists, use force replace to overwrite it")

// pageAlignment is the page blob page size; ranges must align to it.
const pageAlignment = 512

// BlobExists reports whether the blob exists in the configured
// container.
func (a *API) BlobExists(ctx context.Context, blobName string) (bool, error) {
	if err := a.opts.require("container", a.opts.Container); err != nil {
		return false, err
	}
	client, err := a.BlobServiceClient(ctx)
	if err != nil {
		return false, err
	}

	exists := false
	err = a.executor.Do(ctx, func(ctx context.Context) error {
		blobClient := client.NewContainerClient(a.opts.Container).NewBlobClient(blobName)
		if _, err := blobClient.GetProperties(ctx, nil); err != nil {
			if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ResourceNotFound) {
				exists = false
				return nil
			}
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

// DeleteBlob deletes the blob and its snapshots. Deleting a missing
// blob reports false with no error.
func (a *API) DeleteBlob(ctx context.Context, blobName string) (bool, error) {
	if err := a.opts.require("container", a.opts.Container); err != nil {
		return false, err
	}
	client, err := a.BlobServiceClient(ctx)
	if err != nil {
		return false, err
	}

	deleted := false
	err = a.executor.Do(ctx, func(ctx context.Context) error {
		blobClient := client.NewContainerClient(a.opts.Container).NewBlobClient(blobName)
		opts := blob.DeleteOptions{
			DeleteSnapshots: to.Ptr(blob.DeleteSnapshotsOptionTypeInclude),
		}
		if _, err := blobClient.Delete(ctx, &opts); err != nil {
			if bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ResourceNotFound) {
				plog.Debugf("Blob %s not found, nothing has been deleted", blobName)
				deleted = false
				return nil
			}
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// BlobURL returns the blob's unauthenticated URL.
func (a *API) BlobURL(ctx context.Context, blobName string) (string, error) {
	client, err := a.BlobServiceClient(ctx)
	if err != nil {
		return "", err
	}
	return client.NewContainerClient(a.opts.Container).NewBlobClient(blobName).URL(), nil
}

// SignBlob returns a read/list SAS URL for the blob, valid for the
// given duration.
func (a *API) SignBlob(ctx context.Context, blobName string, validFor time.Duration) (string, error) {
	if err := a.opts.require("container", a.opts.Container); err != nil {
		return "", err
	}
	client, err := a.BlobServiceClient(ctx)
	if err != nil {
		return "", err
	}

	blobClient := client.NewContainerClient(a.opts.Container).NewBlobClient(blobName)
	perms := sas.BlobPermissions{}
	perms.Read = true
	perms.List = true
	expiry := time.Now().Add(validFor)
	return blobClient.GetSASURL(perms, expiry, nil)
}

// UploadBlobOptions tunes one blob upload.
type UploadBlobOptions struct {
	// PageBlob uploads to a page blob (the VHD format Azure images
	// require); otherwise a block blob is assembled.
	PageBlob bool

	// ForceReplace deletes an existing blob of the same name first.
	ForceReplace bool
}

// UploadBlob uploads the image file to the configured container as
// blobName, splitting it into chunks uploaded across the configured
// worker pool. The blob is finalized only after every chunk has been
// committed.
func (a *API) UploadBlob(ctx context.Context, imageFile, blobName string, opts UploadBlobOptions) error {
	if err := a.opts.require("container", a.opts.Container); err != nil {
		return err
	}
	client, err := a.BlobServiceClient(ctx)
	if err != nil {
		return err
	}

	exists, err := a.BlobExists(ctx, blobName)
	if err != nil {
		return err
	}
	if exists {
		if !opts.ForceReplace {
			return fmt.Errorf("uploading %q: %w", blobName, ErrBlobExists)
		}
		if _, err := a.DeleteBlob(ctx, blobName); err != nil {
			return fmt.Errorf("replacing blob %q: %w", blobName, err)
		}
	}

	f, err := os.Open(imageFile)
	if err != nil {
		return fmt.Errorf("opening image file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	size := info.Size()

	containerClient := client.NewContainerClient(a.opts.Container)
	var dest upload.Blob
	if opts.PageBlob {
		if size%pageAlignment != 0 {
			return fmt.Errorf("page blob upload requires a size aligned to %d bytes, got %d", pageAlignment, size)
		}
		if a.opts.ChunkSize%pageAlignment != 0 {
			return fmt.Errorf("page blob upload requires a chunk size aligned to %d bytes, got %d", pageAlignment, a.opts.ChunkSize)
		}
		contentMD5, err := fileMD5(f)
		if err != nil {
			return fmt.Errorf("hashing image file: %w", err)
		}
		dest = newPageBlobDest(containerClient.NewPageBlobClient(blobName), contentMD5)
	} else {
		dest = newBlockBlobDest(containerClient.NewBlockBlobClient(blobName))
	}

	session := &upload.Session{
		Source:      f,
		Size:        size,
		ChunkSize:   a.opts.ChunkSize,
		Workers:     a.opts.MaxWorkers,
		MaxAttempts: a.opts.MaxAttempts,
		Executor:    a.executor,
		Dest:        dest,
	}
	if err := session.Run(ctx); err != nil {
		return fmt.Errorf("uploading %q: %w", blobName, err)
	}
	return nil
}

func fileMD5(f *os.File) ([]byte, error) {
	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}
