package proxy

import (
	"encoding/json"
	"fmt"

	digest "github.com/opencontainers/go-digest"
	imgspec "github.com/opencontainers/image-spec/specs-go/v1"
)

// OpenedImage is a handle the proxy subprocess returned for a pull spec,
// analogous to containers-image-proxy's OpenedImage.
type OpenedImage struct {
	id  string
	ref string
}

// OpenImage asks the proxy to resolve and open imgref, returning a handle
// valid until CloseImage is called.
func (d *Driver) OpenImage(imgref string) (*OpenedImage, error) {
	resp, err := d.call("OpenImage", imgref)
	if err != nil {
		return nil, fmt.Errorf("opening image %s: %w", imgref, err)
	}
	var id string
	if err := json.Unmarshal(resp.Value, &id); err != nil {
		return nil, fmt.Errorf("decoding opened image handle: %w", err)
	}
	return &OpenedImage{id: id, ref: imgref}, nil
}

// CloseImage releases a handle returned by OpenImage.
func (d *Driver) CloseImage(img *OpenedImage) error {
	_, err := d.call("CloseImage", img.id)
	if err != nil {
		return fmt.Errorf("closing image %s: %w", img.ref, err)
	}
	return nil
}

// manifestResult mirrors the JSON the proxy returns for a manifest fetch.
type manifestResult struct {
	Digest   digest.Digest        `json:"digest"`
	Manifest imgspec.Manifest     `json:"manifest"`
	Config   *imgspec.ImageConfig `json:"config,omitempty"`
}

// FetchManifest downloads img's manifest and its digest.
func (d *Driver) FetchManifest(img *OpenedImage) (*imgspec.Manifest, digest.Digest, error) {
	resp, err := d.call("FetchManifest", img.id)
	if err != nil {
		return nil, "", fmt.Errorf("fetching manifest for %s: %w", img.ref, err)
	}
	var result manifestResult
	if err := json.Unmarshal(resp.Value, &result); err != nil {
		return nil, "", fmt.Errorf("decoding manifest for %s: %w", img.ref, err)
	}
	return &result.Manifest, result.Digest, nil
}

// FetchManifestAndConfig downloads img's manifest, digest, and image config
// in a single round trip.
func (d *Driver) FetchManifestAndConfig(img *OpenedImage) (*imgspec.Manifest, digest.Digest, *imgspec.ImageConfig, error) {
	resp, err := d.call("FetchManifestAndConfig", img.id)
	if err != nil {
		return nil, "", nil, fmt.Errorf("fetching manifest and config for %s: %w", img.ref, err)
	}
	var result manifestResult
	if err := json.Unmarshal(resp.Value, &result); err != nil {
		return nil, "", nil, fmt.Errorf("decoding manifest and config for %s: %w", img.ref, err)
	}
	if result.Config == nil {
		return nil, "", nil, fmt.Errorf("proxy did not return a config for %s", img.ref)
	}
	return &result.Manifest, result.Digest, result.Config, nil
}
