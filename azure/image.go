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

// ImageExistsError reports an image that is already present when a
// create was requested without force replacement.
type ImageExistsError struct {
	Name string
}

func (e *ImageExistsError) Error() string {
	return fmt.Sprintf("image %q already exists, use force replace to re-create it", e.Name)
}

// GetImage fetches the managed image by name.
func (a *API) GetImage(ctx context.Context, name string) (*armcompute.Image, error) {
	if err := a.managementReady(); err != nil {
		return nil, err
	}
	if err := a.opts.require("resource_group", a.opts.ResourceGroup); err != nil {
		return nil, err
	}

	var image armcompute.Image
	err := a.executor.Do(ctx, func(ctx context.Context) error {
		resp, err := a.imgClient.Get(ctx, a.opts.ResourceGroup, name, nil)
		if err != nil {
			return err
		}
		image = resp.Image
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &image, nil
}

// ImageExists reports whether the managed image exists.
func (a *API) ImageExists(ctx context.Context, name string) (bool, error) {
	_, err := a.GetImage(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// CreateImage creates a managed image referencing the blob as its OS
// disk and waits for provisioning to finish. An existing image of the
// same name is an error unless forceReplace is set, in which case it
// is deleted first.
func (a *API) CreateImage(ctx context.Context, name, blobURI string, forceReplace bool) (*armcompute.Image, error) {
	if err := a.managementReady(); err != nil {
		return nil, err
	}
	if err := a.opts.require(
		"resource_group", a.opts.ResourceGroup,
		"region", a.opts.Region,
	); err != nil {
		return nil, err
	}

	exists, err := a.ImageExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		if !forceReplace {
			return nil, &ImageExistsError{Name: name}
		}
		if err := a.DeleteImage(ctx, name); err != nil {
			return nil, fmt.Errorf("replacing image %q: %w", name, err)
		}
	}

	plog.Infof("Creating image %s from %s", name, blobURI)
	image := armcompute.Image{
		Name:     &name,
		Location: &a.opts.Region,
		Properties: &armcompute.ImageProperties{
			HyperVGeneration: to.Ptr(armcompute.HyperVGenerationTypes(a.opts.HyperVGeneration)),
			StorageProfile: &armcompute.ImageStorageProfile{
				OSDisk: &armcompute.ImageOSDisk{
					OSType:  to.Ptr(armcompute.OperatingSystemTypesLinux),
					OSState: to.Ptr(armcompute.OperatingSystemStateTypesGeneralized),
					Caching: to.Ptr(armcompute.CachingTypesReadWrite),
					BlobURI: &blobURI,
				},
			},
		},
	}
	err = a.executor.Do(ctx, func(ctx context.Context) error {
		_, err := a.imgClient.BeginCreateOrUpdate(ctx, a.opts.ResourceGroup, name, image, nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("starting creation of image %q: %w", name, err)
	}

	waiter := &operation.Waiter{
		Handle:   name,
		Kind:     operation.ImageCreate,
		Interval: a.opts.PollInterval,
		Timeout:  a.opts.Timeout,
		Executor: a.executor,
		Probe:    a.imageProvisioningProbe(name),
	}
	result, err := waiter.Wait(ctx)
	if err != nil {
		return nil, err
	}

	var created armcompute.Image
	if err := json.Unmarshal(result.Payload, &created); err != nil {
		return nil, fmt.Errorf("decoding created image %q: %w", name, err)
	}
	return &created, nil
}

// DeleteImage deletes the managed image and waits until it is gone.
func (a *API) DeleteImage(ctx context.Context, name string) error {
	if err := a.managementReady(); err != nil {
		return err
	}
	if err := a.opts.require("resource_group", a.opts.ResourceGroup); err != nil {
		return err
	}

	plog.Infof("Deleting image %s", name)
	err := a.executor.Do(ctx, func(ctx context.Context) error {
		_, err := a.imgClient.BeginDelete(ctx, a.opts.ResourceGroup, name, nil)
		return err
	})
	if err != nil {
		return fmt.Errorf("starting deletion of image %q: %w", name, err)
	}

	waiter := &operation.Waiter{
		Handle:   name,
		Kind:     operation.ImageDelete,
		Interval: a.opts.PollInterval,
		Timeout:  a.opts.Timeout,
		Executor: a.executor,
		Probe: a.goneProbe(func(ctx context.Context) error {
			_, err := a.imgClient.Get(ctx, a.opts.ResourceGroup, name, nil)
			return err
		}),
	}
	if _, err := waiter.Wait(ctx); err != nil {
		return err
	}
	return nil
}

// imageProvisioningProbe reports the image's provisioning state until
// it is terminal. A transient 404 right after the create was accepted
// maps to Pending.
func (a *API) imageProvisioningProbe(name string) operation.Probe {
	return func(ctx context.Context) (operation.Status, json.RawMessage, error) {
		resp, err := a.imgClient.Get(ctx, a.opts.ResourceGroup, name, nil)
		if err != nil {
			if isNotFound(err) {
				return operation.StatusPending, nil, nil
			}
			return "", nil, err
		}

		state := ""
		if resp.Properties != nil && resp.Properties.ProvisioningState != nil {
			state = *resp.Properties.ProvisioningState
		}
		payload, err := json.Marshal(resp.Image)
		if err != nil {
			return "", nil, err
		}
		return provisioningStatus(state), payload, nil
	}
}

// goneProbe treats the resource's absence as success. Any state the
// resource reports while it still exists counts as in progress.
func (a *API) goneProbe(get func(ctx context.Context) error) operation.Probe {
	return func(ctx context.Context) (operation.Status, json.RawMessage, error) {
		err := get(ctx)
		if err == nil {
			return operation.StatusInProgress, nil, nil
		}
		if isNotFound(err) {
			return operation.StatusSucceeded, nil, nil
		}
		return "", nil, err
	}
}

func provisioningStatus(state string) operation.Status {
	switch state {
	case "Succeeded":
		return operation.StatusSucceeded
	case "Failed":
		return operation.StatusFailed
	case "Canceled":
		return operation.StatusCanceled
	case "":
		return operation.StatusPending
	default:
		// Creating, Updating, Deleting, ...
		return operation.StatusInProgress
	}
}
