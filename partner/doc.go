// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package partner

import (
	"fmt"
	"regexp"
	"time"
)

// DefaultVMImagesKey is the offer-document key holding the VM image
// versions of a plan.
const DefaultVMImagesKey = "microsoft-azure-corevm.vmImagesPublicAzure"

var releaseDateRe = regexp.MustCompile(`\d{8}`)

// NoMatchError reports that a plan, generation or version the caller
// named does not exist in the offer document. The document is left
// unmodified.
type NoMatchError struct {
	What  string
	Value string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no match found for %s %q, offer doc not updated", e.What, e.Value)
}

// LastImageVersionError reports a refused removal that would have left
// a plan with zero image versions.
type LastImageVersionError struct {
	PlanID  string
	Version string
}

func (e *LastImageVersionError) Error() string {
	return fmt.Sprintf("refusing to remove image version %q: it is the last version of plan %q",
		e.Version, e.PlanID)
}

// ImageVersion describes one image release to add to an offer plan.
type ImageVersion struct {
	SKU         string
	BlobURL     string
	Description string
	ImageName   string
	Label       string

	// GenerationID, if set, also publishes the version under the
	// matching disk generation of the plan.
	GenerationID string
	// GenerationSuffix overrides GenerationID in the generation's
	// media name.
	GenerationSuffix string

	// VMImagesKey defaults to DefaultVMImagesKey.
	VMImagesKey string
}

func docPlans(doc map[string]any) ([]any, error) {
	def, ok := doc["definition"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("offer doc has no definition section")
	}
	plans, ok := def["plans"].([]any)
	if !ok {
		return nil, fmt.Errorf("offer doc has no plans")
	}
	return plans, nil
}

// releaseDate derives the version's release date from an eight-digit
// date embedded in the image name, falling back to today.
func releaseDate(imageName string) time.Time {
	if m := releaseDateRe.FindString(imageName); m != "" {
		if d, err := time.Parse("20060102", m); err == nil {
			return d
		}
	}
	return time.Now()
}

// AddImageVersion inserts a new image version into the plan matching
// v.SKU, and into the matching disk generation when v.GenerationID is
// set. The release key is derived from the image name's date.
func AddImageVersion(doc map[string]any, v ImageVersion) error {
	vmImagesKey := v.VMImagesKey
	if vmImagesKey == "" {
		vmImagesKey = DefaultVMImagesKey
	}

	date := releaseDate(v.ImageName)
	release := date.Format("2006.01.02")
	version := map[string]any{
		"osVhdUrl":      v.BlobURL,
		"label":         v.Label,
		"mediaName":     v.ImageName,
		"publishedDate": date.Format("01/02/2006"),
		"description":   v.Description,
		"showInGui":     true,
		"lunVhdDetails": []any{},
	}

	plans, err := docPlans(doc)
	if err != nil {
		return err
	}
	for _, p := range plans {
		plan, ok := p.(map[string]any)
		if !ok || plan["planId"] != v.SKU {
			continue
		}

		images, ok := plan[vmImagesKey].(map[string]any)
		if !ok {
			images = map[string]any{}
			plan[vmImagesKey] = images
		}
		images[release] = version

		if v.GenerationID != "" {
			if err := addGenerationVersion(plan, v, vmImagesKey, release, version); err != nil {
				return err
			}
		}
		return nil
	}
	return &NoMatchError{What: "SKU", Value: v.SKU}
}

func addGenerationVersion(plan map[string]any, v ImageVersion, vmImagesKey, release string, version map[string]any) error {
	generations, _ := plan["diskGenerations"].([]any)
	for _, g := range generations {
		gen, ok := g.(map[string]any)
		if !ok || gen["planId"] != v.GenerationID {
			continue
		}

		suffix := v.GenerationSuffix
		if suffix == "" {
			suffix = v.GenerationID
		}
		genVersion := make(map[string]any, len(version))
		for k, val := range version {
			genVersion[k] = val
		}
		genVersion["mediaName"] = v.ImageName + "-" + suffix

		images, ok := gen[vmImagesKey].(map[string]any)
		if !ok {
			images = map[string]any{}
			gen[vmImagesKey] = images
		}
		images[release] = genVersion
		return nil
	}
	return &NoMatchError{What: "generation ID", Value: v.GenerationID}
}

// RemoveImageVersion deletes the given image version from the plan or
// disk generation matching planID. Removing the last remaining version
// of a plan is refused, so an offer is never left without a published
// image.
func RemoveImageVersion(doc map[string]any, version, planID, vmImagesKey string) error {
	if vmImagesKey == "" {
		vmImagesKey = DefaultVMImagesKey
	}

	plans, err := docPlans(doc)
	if err != nil {
		return err
	}
	removed := false
	for _, p := range plans {
		plan, ok := p.(map[string]any)
		if !ok {
			continue
		}
		if plan["planId"] == planID {
			ok, err := removeVersion(plan, version, planID, vmImagesKey)
			if err != nil {
				return err
			}
			removed = removed || ok
		}
		generations, _ := plan["diskGenerations"].([]any)
		for _, g := range generations {
			gen, ok := g.(map[string]any)
			if !ok || gen["planId"] != planID {
				continue
			}
			ok, err := removeVersion(gen, version, planID, vmImagesKey)
			if err != nil {
				return err
			}
			removed = removed || ok
		}
	}
	if !removed {
		return &NoMatchError{What: "version", Value: version + " under plan " + planID}
	}
	return nil
}

func removeVersion(plan map[string]any, version, planID, vmImagesKey string) (bool, error) {
	images, ok := plan[vmImagesKey].(map[string]any)
	if !ok {
		return false, nil
	}
	if _, ok := images[version]; !ok {
		return false, nil
	}
	if len(images) == 1 {
		return false, &LastImageVersionError{PlanID: planID, Version: version}
	}
	delete(images, version)
	return true, nil
}

// DeprecateImage hides the named image from the marketplace GUI. The
// image name must carry its eight-digit release date, which locates
// the version entry under the SKU.
func DeprecateImage(doc map[string]any, imageName, sku, vmImagesKey string) error {
	if vmImagesKey == "" {
		vmImagesKey = DefaultVMImagesKey
	}

	m := releaseDateRe.FindString(imageName)
	if m == "" {
		return fmt.Errorf("image name %q carries no release date, cannot locate its version", imageName)
	}
	date, err := time.Parse("20060102", m)
	if err != nil {
		return fmt.Errorf("image name %q carries invalid release date %q", imageName, m)
	}
	release := date.Format("2006.01.02")

	plans, err := docPlans(doc)
	if err != nil {
		return err
	}
	for _, p := range plans {
		plan, ok := p.(map[string]any)
		if !ok || plan["planId"] != sku {
			continue
		}
		images, ok := plan[vmImagesKey].(map[string]any)
		if !ok {
			continue
		}
		image, ok := images[release].(map[string]any)
		if !ok {
			continue
		}

		if image["mediaName"] == imageName {
			image["showInGui"] = false
		} else {
			plog.Warningf("deprecation image name %q does not match the mediaName attribute %v",
				imageName, image["mediaName"])
		}
		return nil
	}
	return &NoMatchError{What: "image in SKU", Value: sku}
}
