// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package azure

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"sort"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/pageblob"

	"github.com/suse-enceladus/azimg/upload"
)

// pageBlobDest uploads chunks as page ranges of a pre-allocated page
// blob. Pages are zero-initialized on creation, so all-zero chunks are
// skipped rather than written.
type pageBlobDest struct {
	client     *pageblob.Client
	contentMD5 []byte
}

func newPageBlobDest(client *pageblob.Client, contentMD5 []byte) *pageBlobDest {
	return &pageBlobDest{client: client, contentMD5: contentMD5}
}

func (d *pageBlobDest) Create(ctx context.Context, size int64) error {
	_, err := d.client.Create(ctx, size, nil)
	return err
}

func (d *pageBlobDest) PutChunk(ctx context.Context, c upload.Chunk, data []byte) error {
	if allZero(data) {
		return nil
	}
	body := streaming.NopCloser(bytes.NewReader(data))
	_, err := d.client.UploadPages(ctx, body, blob.HTTPRange{
		Offset: c.Offset,
		Count:  c.Length,
	}, nil)
	return err
}

func (d *pageBlobDest) Commit(ctx context.Context) error {
	if len(d.contentMD5) == 0 {
		return nil
	}
	_, err := d.client.BlobClient().SetHTTPHeaders(ctx, blob.HTTPHeaders{
		BlobContentMD5: d.contentMD5,
	}, nil)
	return err
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

// blockBlobDest stages chunks as blocks and assembles them with a
// block list commit ordered by chunk index.
type blockBlobDest struct {
	client *blockblob.Client

	mu     sync.Mutex
	staged map[int]string
}

func newBlockBlobDest(client *blockblob.Client) *blockBlobDest {
	return &blockBlobDest{client: client, staged: make(map[int]string)}
}

func (d *blockBlobDest) Create(ctx context.Context, size int64) error {
	// Block blobs come into existence with the block list commit.
	return nil
}

func (d *blockBlobDest) PutChunk(ctx context.Context, c upload.Chunk, data []byte) error {
	// Block IDs of one blob must have equal length.
	id := base64.StdEncoding.EncodeToString([]byte(fmt.Sprintf("%016d", c.Index)))
	body := streaming.NopCloser(bytes.NewReader(data))
	if _, err := d.client.StageBlock(ctx, id, body, nil); err != nil {
		return err
	}

	d.mu.Lock()
	d.staged[c.Index] = id
	d.mu.Unlock()
	return nil
}

func (d *blockBlobDest) Commit(ctx context.Context) error {
	d.mu.Lock()
	indexes := make([]int, 0, len(d.staged))
	for idx := range d.staged {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	ids := make([]string, len(indexes))
	for i, idx := range indexes {
		ids[i] = d.staged[idx]
	}
	d.mu.Unlock()

	_, err := d.client.CommitBlockList(ctx, ids, nil)
	return err
}
