// Copyright The Azimg Authors
// SPDX-License-Identifier: Apache-2.0

package partner

import (
	"errors"
	"testing"
)

func testDoc() map[string]any {
	return map[string]any{
		"definition": map[string]any{
			"plans": []any{
				map[string]any{
					"planId": "gen1",
					DefaultVMImagesKey: map[string]any{
						"2024.01.15": map[string]any{
							"mediaName": "test-image-20240115",
							"showInGui": true,
						},
						"2024.03.01": map[string]any{
							"mediaName": "test-image-20240301",
							"showInGui": true,
						},
					},
					"diskGenerations": []any{
						map[string]any{
							"planId": "gen2",
							DefaultVMImagesKey: map[string]any{
								"2024.01.15": map[string]any{
									"mediaName": "test-image-20240115-gen2",
									"showInGui": true,
								},
								"2024.03.01": map[string]any{
									"mediaName": "test-image-20240301-gen2",
									"showInGui": true,
								},
							},
						},
					},
				},
			},
		},
	}
}

func planImages(t *testing.T, doc map[string]any, planID string) map[string]any {
	t.Helper()
	plans, err := docPlans(doc)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range plans {
		plan := p.(map[string]any)
		if plan["planId"] == planID {
			images, _ := plan[DefaultVMImagesKey].(map[string]any)
			return images
		}
		generations, _ := plan["diskGenerations"].([]any)
		for _, g := range generations {
			gen := g.(map[string]any)
			if gen["planId"] == planID {
				images, _ := gen[DefaultVMImagesKey].(map[string]any)
				return images
			}
		}
	}
	t.Fatalf("plan %q not found", planID)
	return nil
}

func TestAddImageVersion(t *testing.T) {
	doc := testDoc()
	err := AddImageVersion(doc, ImageVersion{
		SKU:         "gen1",
		BlobURL:     "https://acct.blob.core.windows.net/c/test-image-20240502.vhd?sig=x",
		Description: "May refresh",
		ImageName:   "test-image-20240502",
		Label:       "Test Image",
	})
	if err != nil {
		t.Fatalf("AddImageVersion: %v", err)
	}

	images := planImages(t, doc, "gen1")
	version, ok := images["2024.05.02"].(map[string]any)
	if !ok {
		t.Fatalf("release key 2024.05.02 missing, have %v", images)
	}
	if version["mediaName"] != "test-image-20240502" {
		t.Errorf("got mediaName %v", version["mediaName"])
	}
	if version["publishedDate"] != "05/02/2024" {
		t.Errorf("got publishedDate %v, want 05/02/2024", version["publishedDate"])
	}
	if version["showInGui"] != true {
		t.Errorf("new version must show in GUI")
	}
}

func TestAddImageVersionWithGeneration(t *testing.T) {
	doc := testDoc()
	err := AddImageVersion(doc, ImageVersion{
		SKU:          "gen1",
		BlobURL:      "https://example/sas",
		ImageName:    "test-image-20240502",
		Label:        "Test Image",
		GenerationID: "gen2",
	})
	if err != nil {
		t.Fatalf("AddImageVersion: %v", err)
	}

	genImages := planImages(t, doc, "gen2")
	version, ok := genImages["2024.05.02"].(map[string]any)
	if !ok {
		t.Fatal("generation did not receive the new version")
	}
	if version["mediaName"] != "test-image-20240502-gen2" {
		t.Errorf("got generation mediaName %v", version["mediaName"])
	}
	// the plan's own entry must keep the unsuffixed name
	if planImages(t, doc, "gen1")["2024.05.02"].(map[string]any)["mediaName"] != "test-image-20240502" {
		t.Error("generation suffix leaked into the plan's version")
	}
}

func TestAddImageVersionUnknownSKU(t *testing.T) {
	doc := testDoc()
	err := AddImageVersion(doc, ImageVersion{
		SKU:       "nope",
		ImageName: "test-image-20240502",
	})
	var nm *NoMatchError
	if !errors.As(err, &nm) {
		t.Fatalf("got %v, want *NoMatchError", err)
	}
	if nm.Value != "nope" {
		t.Errorf("error names %q", nm.Value)
	}
}

func TestAddImageVersionUnknownGeneration(t *testing.T) {
	doc := testDoc()
	err := AddImageVersion(doc, ImageVersion{
		SKU:          "gen1",
		ImageName:    "test-image-20240502",
		GenerationID: "gen9",
	})
	var nm *NoMatchError
	if !errors.As(err, &nm) {
		t.Fatalf("got %v, want *NoMatchError", err)
	}
}

func TestRemoveImageVersion(t *testing.T) {
	doc := testDoc()
	if err := RemoveImageVersion(doc, "2024.01.15", "gen1", ""); err != nil {
		t.Fatalf("RemoveImageVersion: %v", err)
	}
	images := planImages(t, doc, "gen1")
	if _, ok := images["2024.01.15"]; ok {
		t.Error("version still present after removal")
	}
	if _, ok := images["2024.03.01"]; !ok {
		t.Error("removal took the wrong version")
	}
	// gen2 keeps its versions: it is a distinct plan id
	if len(planImages(t, doc, "gen2")) != 2 {
		t.Error("removal leaked into the disk generation")
	}
}

func TestRemoveImageVersionFromGeneration(t *testing.T) {
	doc := testDoc()
	if err := RemoveImageVersion(doc, "2024.01.15", "gen2", ""); err != nil {
		t.Fatalf("RemoveImageVersion: %v", err)
	}
	if len(planImages(t, doc, "gen2")) != 1 {
		t.Error("generation version not removed")
	}
	if len(planImages(t, doc, "gen1")) != 2 {
		t.Error("removal leaked into the plan")
	}
}

func TestRemoveLastImageVersionRefused(t *testing.T) {
	doc := testDoc()
	if err := RemoveImageVersion(doc, "2024.01.15", "gen1", ""); err != nil {
		t.Fatal(err)
	}
	err := RemoveImageVersion(doc, "2024.03.01", "gen1", "")
	var last *LastImageVersionError
	if !errors.As(err, &last) {
		t.Fatalf("got %v, want *LastImageVersionError", err)
	}
	if last.PlanID != "gen1" || last.Version != "2024.03.01" {
		t.Errorf("error names %q/%q", last.PlanID, last.Version)
	}
	// the refused removal must leave the document intact
	if _, ok := planImages(t, doc, "gen1")["2024.03.01"]; !ok {
		t.Error("refused removal still modified the document")
	}
}

func TestRemoveImageVersionUnknown(t *testing.T) {
	doc := testDoc()
	err := RemoveImageVersion(doc, "2030.01.01", "gen1", "")
	var nm *NoMatchError
	if !errors.As(err, &nm) {
		t.Fatalf("got %v, want *NoMatchError", err)
	}
}

func TestDeprecateImage(t *testing.T) {
	doc := testDoc()
	if err := DeprecateImage(doc, "test-image-20240115", "gen1", ""); err != nil {
		t.Fatalf("DeprecateImage: %v", err)
	}
	image := planImages(t, doc, "gen1")["2024.01.15"].(map[string]any)
	if image["showInGui"] != false {
		t.Error("image still shows in GUI")
	}
	// only the named version changes
	other := planImages(t, doc, "gen1")["2024.03.01"].(map[string]any)
	if other["showInGui"] != true {
		t.Error("deprecation touched the wrong version")
	}
}

func TestDeprecateImageWithoutDate(t *testing.T) {
	doc := testDoc()
	if err := DeprecateImage(doc, "test-image-latest", "gen1", ""); err == nil {
		t.Fatal("image name without a release date must be rejected")
	}
}

func TestDeprecateImageUnknownSKU(t *testing.T) {
	doc := testDoc()
	err := DeprecateImage(doc, "test-image-20240115", "nope", "")
	var nm *NoMatchError
	if !errors.As(err, &nm) {
		t.Fatalf("got %v, want *NoMatchError", err)
	}
}

func TestReleaseDateFromImageName(t *testing.T) {
	d := releaseDate("sles-15-sp6-v20240502-x86_64")
	if got := d.Format("2006.01.02"); got != "2024.05.02" {
		t.Errorf("got %s, want 2024.05.02", got)
	}
}
