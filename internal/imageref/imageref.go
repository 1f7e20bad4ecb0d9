// Package imageref parses and prints the textual reference grammar that
// couples a container transport+name pair with an ostree signature
// verification policy, and computes layer-set differences between two OCI
// manifests.
package imageref

import (
	"fmt"
	"sort"
	"strings"

	dockerref "github.com/containers/image/v5/docker/reference"
	digest "github.com/opencontainers/go-digest"
	imgspec "github.com/opencontainers/image-spec/specs-go/v1"
)

// Transport identifies the backend/transport for an OCI/Docker image.
type Transport int

const (
	// Registry is a remote Docker/OCI registry (registry: or docker://).
	Registry Transport = iota
	// OciDir is a local OCI directory (oci:).
	OciDir
	// OciArchive is a local OCI archive tarball (oci-archive:).
	OciArchive
	// ContainerStorage is local container storage (containers-storage:).
	ContainerStorage
)

// ParseTransport maps a transport tag to a Transport value.
func ParseTransport(tag string) (Transport, error) {
	switch tag {
	case "registry", "docker":
		return Registry, nil
	case "oci":
		return OciDir, nil
	case "oci-archive":
		return OciArchive, nil
	case "containers-storage":
		return ContainerStorage, nil
	default:
		return 0, fmt.Errorf("unknown transport %q", tag)
	}
}

// String returns the canonical printed tag for t, e.g. "docker://".
func (t Transport) String() string {
	switch t {
	case Registry:
		// TODO once a registry-native proxy protocol supports it, canonicalize as "registry:"
		return "docker://"
	case OciArchive:
		return "oci-archive:"
	case OciDir:
		return "oci:"
	case ContainerStorage:
		return "containers-storage:"
	default:
		return "unknown:"
	}
}

// ImageReference combines a transport and an image name.
type ImageReference struct {
	Transport Transport
	Name      string
}

// ParseImageReference parses the "<transport-tag>:<name>" grammar described
// in spec.md §3/§6, with docker's special "//" requirement.
func ParseImageReference(s string) (ImageReference, error) {
	transportName, name, ok := strings.Cut(s, ":")
	if !ok {
		return ImageReference{}, fmt.Errorf("missing ':' in %q", s)
	}
	transport, err := ParseTransport(transportName)
	if err != nil {
		return ImageReference{}, err
	}
	if name == "" {
		return ImageReference{}, fmt.Errorf("invalid empty name in %q", s)
	}
	if transportName == "docker" {
		rest, ok := strings.CutPrefix(name, "//")
		if !ok {
			return ImageReference{}, fmt.Errorf("missing // in docker:// in %q", s)
		}
		name = rest
		// Validate against the real docker image reference grammar, the same
		// check the teacher delegates to containers/image/v5 (ocitransport.go's
		// docker.ParseReference) before handing a reference to a transport.
		if _, err := dockerref.ParseDockerRef(name); err != nil {
			return ImageReference{}, fmt.Errorf("invalid docker reference %q: %w", name, err)
		}
	}
	return ImageReference{Transport: transport, Name: name}, nil
}

// String renders the canonical textual form of an ImageReference.
func (r ImageReference) String() string {
	return r.Transport.String() + r.Name
}

// SignatureSourceKind tags the variant of a SignatureSource.
type SignatureSourceKind int

const (
	// SigOstreeRemote verifies via the named ostree remote's GPG/ed25519 config.
	SigOstreeRemote SignatureSourceKind = iota
	// SigContainerPolicy defers to containers-policy.json.
	SigContainerPolicy
	// SigContainerPolicyAllowInsecure defers to containers-policy.json, not rejecting insecureAcceptAnything.
	SigContainerPolicyAllowInsecure
)

// SignatureSource is a signature-verification policy for a pulled image.
type SignatureSource struct {
	Kind   SignatureSourceKind
	Remote string // only set when Kind == SigOstreeRemote
}

// ParseSignatureSource parses one of the three long-form signature-source
// strings (the shorthand forms are only valid as part of an
// OstreeImageReference and are handled there).
func ParseSignatureSource(s string) (SignatureSource, error) {
	switch s {
	case "ostree-image-signed":
		return SignatureSource{Kind: SigContainerPolicy}, nil
	case "ostree-unverified-image":
		return SignatureSource{Kind: SigContainerPolicyAllowInsecure}, nil
	default:
		if rest, ok := strings.CutPrefix(s, "ostree-remote-image:"); ok {
			return SignatureSource{Kind: SigOstreeRemote, Remote: rest}, nil
		}
		return SignatureSource{}, fmt.Errorf("invalid signature source: %s", s)
	}
}

// String renders the canonical textual form of a SignatureSource.
func (s SignatureSource) String() string {
	switch s.Kind {
	case SigOstreeRemote:
		return "ostree-remote-image:" + s.Remote
	case SigContainerPolicy:
		return "ostree-image-signed"
	default:
		return "ostree-unverified-image"
	}
}

// OstreeImageReference pairs a signature policy with a container image
// reference, as parsed from the full ostree-* scheme grammar in spec.md §3.
type OstreeImageReference struct {
	SigVerify SignatureSource
	ImgRef    ImageReference
}

// ParseOstreeImageReference parses the full grammar, including the
// "ostree-unverified-registry:" and "ostree-remote-registry:" shorthands.
func ParseOstreeImageReference(s string) (OstreeImageReference, error) {
	first, second, ok := strings.Cut(s, ":")
	if !ok {
		return OstreeImageReference{}, fmt.Errorf("missing ':' in %s", s)
	}

	var sig SignatureSource
	var rest string
	switch first {
	case "ostree-image-signed":
		sig, rest = SignatureSource{Kind: SigContainerPolicy}, second
	case "ostree-unverified-image":
		sig, rest = SignatureSource{Kind: SigContainerPolicyAllowInsecure}, second
	case "ostree-unverified-registry":
		sig, rest = SignatureSource{Kind: SigContainerPolicyAllowInsecure}, "registry:"+second
	case "ostree-remote-registry":
		remote, tail, ok := strings.Cut(second, ":")
		if !ok {
			return OstreeImageReference{}, fmt.Errorf("missing second ':' in %s", s)
		}
		sig, rest = SignatureSource{Kind: SigOstreeRemote, Remote: remote}, "registry:"+tail
	case "ostree-remote-image":
		remote, tail, ok := strings.Cut(second, ":")
		if !ok {
			return OstreeImageReference{}, fmt.Errorf("missing second ':' in %s", s)
		}
		sig, rest = SignatureSource{Kind: SigOstreeRemote, Remote: remote}, tail
	default:
		return OstreeImageReference{}, fmt.Errorf("invalid ostree image reference scheme: %s", first)
	}

	imgref, err := ParseImageReference(rest)
	if err != nil {
		return OstreeImageReference{}, err
	}
	return OstreeImageReference{SigVerify: sig, ImgRef: imgref}, nil
}

// String renders the canonical long form, e.g.
// "ostree-remote-image:myremote:docker://quay.io/exampleos/blah".
func (r OstreeImageReference) String() string {
	return r.SigVerify.String() + ":" + r.ImgRef.String()
}

// OSTreeCommitLabel is the label injected into a container image that
// carries the ostree commit's SHA-256.
const OSTreeCommitLabel = "ostree.commit"

// ContentAnnotation names the layer annotation listing component names.
const ContentAnnotation = "ostree.components"

// componentSeparator is the delimiter used within ContentAnnotation.
const componentSeparator = ","

// EncodeComponents joins component names for the ostree.components layer
// annotation.
func EncodeComponents(components []string) string {
	return strings.Join(components, componentSeparator)
}

// DecodeComponents splits the ostree.components layer annotation value back
// into component names, ignoring a trailing empty value for an empty string.
func DecodeComponents(annotation string) []string {
	if annotation == "" {
		return nil
	}
	return strings.Split(annotation, componentSeparator)
}

// LabelVersion is the pre-OCI label name used as a version fallback.
const LabelVersion = "version"

// VersionForConfig returns org.opencontainers.image.version if present,
// else the bare "version" label, else "", false.
func VersionForConfig(config imgspec.ImageConfig) (string, bool) {
	if config.Labels == nil {
		return "", false
	}
	for _, k := range []string{imgspec.AnnotationVersion, LabelVersion} {
		if v, ok := config.Labels[k]; ok {
			return v, true
		}
	}
	return "", false
}

// ManifestDiff is the deterministic set difference between the layer lists
// of two OCI manifests, keyed by digest and sorted ascending for
// determinism.
type ManifestDiff struct {
	From    *imgspec.Manifest
	To      *imgspec.Manifest
	Removed []imgspec.Descriptor
	Added   []imgspec.Descriptor
}

// NewManifestDiff computes the layer difference between src and dest.
func NewManifestDiff(src, dest *imgspec.Manifest) *ManifestDiff {
	srcLayers := make(map[digest.Digest]imgspec.Descriptor, len(src.Layers))
	for _, l := range src.Layers {
		srcLayers[l.Digest] = l
	}
	destLayers := make(map[digest.Digest]imgspec.Descriptor, len(dest.Layers))
	for _, l := range dest.Layers {
		destLayers[l.Digest] = l
	}

	var removed, added []imgspec.Descriptor
	for d, desc := range srcLayers {
		if _, ok := destLayers[d]; !ok {
			removed = append(removed, desc)
		}
	}
	for d, desc := range destLayers {
		if _, ok := srcLayers[d]; !ok {
			added = append(added, desc)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].Digest < removed[j].Digest })
	sort.Slice(added, func(i, j int) bool { return added[i].Digest < added[j].Digest })

	return &ManifestDiff{From: src, To: dest, Removed: removed, Added: added}
}

func layerSum(layers []imgspec.Descriptor) int64 {
	var total int64
	for _, l := range layers {
		total += l.Size
	}
	return total
}

// Summary renders a human-readable total/added/removed layer report, in the
// style of the original ManifestDiff::print/::test.
func (d *ManifestDiff) Summary() string {
	return fmt.Sprintf(
		"Total new layers: %-4d  Size: %s\nRemoved layers:   %-4d  Size: %s\nAdded layers:     %-4d  Size: %s",
		len(d.To.Layers), formatSize(layerSum(d.To.Layers)),
		len(d.Removed), formatSize(layerSum(d.Removed)),
		len(d.Added), formatSize(layerSum(d.Added)),
	)
}
