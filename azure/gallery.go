// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package azure

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/compute/armcompute/v5"

	"github.com/suse-enceladus/azimg/operation"
)

// GalleryImageVersionSpec names one image version within a compute
// gallery. ResourceGroup defaults to the configured resource group
// when empty.
type GalleryImageVersionSpec struct {
	Gallery       string
	ImageName     string
	Version       string
	ResourceGroup string
}

func (s *GalleryImageVersionSpec) validate(o *Options) error {
	if s.ResourceGroup == "" {
		s.ResourceGroup = o.ResourceGroup
	}
	return o.require(
		"gallery_name", s.Gallery,
		"gallery_image_name", s.ImageName,
		"gallery_image_version", s.Version,
		"gallery_resource_group", s.ResourceGroup,
	)
}

// LastGalleryVersionError reports a refused deletion that would have
// left a gallery image definition with zero versions.
type LastGalleryVersionError struct {
	Gallery   string
	ImageName string
	Version   string
}

func (e *LastGalleryVersionError) Error() string {
	return fmt.Sprintf("refusing to delete version %q: it is the last version of gallery image %s/%s",
		e.Version, e.Gallery, e.ImageName)
}

// GetGalleryImageVersion fetches one gallery image version.
func (a *API) GetGalleryImageVersion(ctx context.Context, spec GalleryImageVersionSpec) (*armcompute.GalleryImageVersion, error) {
	if err := a.managementReady(); err != nil {
		return nil, err
	}
	if err := spec.validate(a.opts); err != nil {
		return nil, err
	}

	var version armcompute.GalleryImageVersion
	err := a.executor.Do(ctx, func(ctx context.Context) error {
		resp, err := a.galClient.Get(ctx, spec.ResourceGroup, spec.Gallery, spec.ImageName, spec.Version, nil)
		if err != nil {
			return err
		}
		version = resp.GalleryImageVersion
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &version, nil
}

// GalleryImageVersionExists reports whether the gallery image version
// exists.
func (a *API) GalleryImageVersionExists(ctx context.Context, spec GalleryImageVersionSpec) (bool, error) {
	_, err := a.GetGalleryImageVersion(ctx, spec)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateGalleryImageVersion creates a gallery image version backed by
// the named blob, replicated to the configured region only, and waits
// for provisioning to finish.
func (a *API) CreateGalleryImageVersion(ctx context.Context, spec GalleryImageVersionSpec, blobName string) (*armcompute.GalleryImageVersion, error) {
	if err := a.managementReady(); err != nil {
		return nil, err
	}
	if err := spec.validate(a.opts); err != nil {
		return nil, err
	}
	if err := a.opts.require(
		"region", a.opts.Region,
		"resource_group", a.opts.ResourceGroup,
		"storage_account", a.opts.StorageAccount,
		"container", a.opts.Container,
		"blob_name", blobName,
	); err != nil {
		return nil, err
	}

	sourceID := fmt.Sprintf(
		"/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Storage/storageAccounts/%s",
		a.source.SubscriptionID(), a.opts.ResourceGroup, a.opts.StorageAccount)
	blobURI := fmt.Sprintf("https://%s.blob.core.windows.net/%s/%s",
		a.opts.StorageAccount, a.opts.Container, blobName)

	plog.Infof("Creating gallery image version %s/%s/%s from %s",
		spec.Gallery, spec.ImageName, spec.Version, blobURI)
	version := armcompute.GalleryImageVersion{
		Location: &a.opts.Region,
		Properties: &armcompute.GalleryImageVersionProperties{
			PublishingProfile: &armcompute.GalleryImageVersionPublishingProfile{
				TargetRegions: []*armcompute.TargetRegion{
					{Name: &a.opts.Region},
				},
			},
			StorageProfile: &armcompute.GalleryImageVersionStorageProfile{
				OSDiskImage: &armcompute.GalleryOSDiskImage{
					Source: &armcompute.GalleryDiskImageSource{
						ID:  &sourceID,
						URI: &blobURI,
					},
					HostCaching: to.Ptr(armcompute.HostCachingReadWrite),
				},
			},
		},
	}
	err := a.executor.Do(ctx, func(ctx context.Context) error {
		_, err := a.galClient.BeginCreateOrUpdate(ctx,
			spec.ResourceGroup, spec.Gallery, spec.ImageName, spec.Version, version, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("starting creation of gallery image version %q: %w", spec.Version, err)
	}

	waiter := &operation.Waiter{
		Handle:   spec.Gallery + "/" + spec.ImageName + "/" + spec.Version,
		Kind:     operation.GalleryVersionCreate,
		Interval: a.opts.PollInterval,
		Timeout:  a.opts.Timeout,
		Executor: a.executor,
		Probe:    a.galleryVersionProvisioningProbe(spec),
	}
	result, err := waiter.Wait(ctx)
	if err != nil {
		return nil, err
	}

	var created armcompute.GalleryImageVersion
	if err := json.Unmarshal(result.Payload, &created); err != nil {
		return nil, fmt.Errorf("decoding gallery image version %q: %w", spec.Version, err)
	}
	return &created, nil
}

// DeleteGalleryImageVersion deletes one gallery image version and
// waits until it is gone. Deleting the last remaining version of an
// image definition is refused.
func (a *API) DeleteGalleryImageVersion(ctx context.Context, spec GalleryImageVersionSpec) error {
	if err := a.managementReady(); err != nil {
		return err
	}
	if err := spec.validate(a.opts); err != nil {
		return err
	}

	count, err := a.countGalleryImageVersions(ctx, spec)
	if err != nil {
		return fmt.Errorf("listing versions of gallery image %s/%s: %w", spec.Gallery, spec.ImageName, err)
	}
	if count <= 1 {
		return &LastGalleryVersionError{
			Gallery:   spec.Gallery,
			ImageName: spec.ImageName,
			Version:   spec.Version,
		}
	}

	plog.Infof("Deleting gallery image version %s/%s/%s", spec.Gallery, spec.ImageName, spec.Version)
	err = a.executor.Do(ctx, func(ctx context.Context) error {
		_, err := a.galClient.BeginDelete(ctx, spec.ResourceGroup, spec.Gallery, spec.ImageName, spec.Version, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("starting deletion of gallery image version %q: %w", spec.Version, err)
	}

	waiter := &operation.Waiter{
		Handle:   spec.Gallery + "/" + spec.ImageName + "/" + spec.Version,
		Kind:     operation.GalleryVersionDelete,
		Interval: a.opts.PollInterval,
		Timeout:  a.opts.Timeout,
		Executor: a.executor,
		Probe: a.goneProbe(func(ctx context.Context) error {
			_, err := a.galClient.Get(ctx, spec.ResourceGroup, spec.Gallery, spec.ImageName, spec.Version, nil)
			return err
		}),
	}
	if _, err := waiter.Wait(ctx); err != nil {
		return err
	}
	return nil
}

func (a *API) countGalleryImageVersions(ctx context.Context, spec GalleryImageVersionSpec) (int, error) {
	count := 0
	err := a.executor.Do(ctx, func(ctx context.Context) error {
		count = 0
		pager := a.galClient.NewListByGalleryImagePager(spec.ResourceGroup, spec.Gallery, spec.ImageName, nil)
		for pager.More() {
			page, err := pager.NextPage(ctx)
			if err != nil {
				return err
			}
			count += len(page.Value)
		}
		return nil
	})
	return count, err
}

func (a *API) galleryVersionProvisioningProbe(spec GalleryImageVersionSpec) operation.Probe {
	return func(ctx context.Context) (operation.Status, json.RawMessage, error) {
		resp, err := a.galClient.Get(ctx, spec.ResourceGroup, spec.Gallery, spec.ImageName, spec.Version, nil)
		if err != nil {
			if isNotFound(err) {
				return operation.StatusPending, nil, nil
			}
			return "", nil, err
		}

		state := ""
		if resp.Properties != nil && resp.Properties.ProvisioningState != nil {
			state = string(*resp.Properties.ProvisioningState)
		}
		payload, err := json.Marshal(resp.GalleryImageVersion)
		if err != nil {
			return "", nil, err
		}
		return provisioningStatus(state), payload, nil
	}
}
