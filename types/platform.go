package types

// Platform describes the platform which the image in the manifest runs on.
type Platform struct {
	// Architecture field specifies the CPU architecture.
	Architecture string `json:"architecture"`

	// OS specifies the operating system.
	OS string `json:"os"`

	// OSVersion is an optional field specifying the operating system version.
	OSVersion string `json:"os.version,omitempty"`

	// OSFeatures is an optional field specifying an array of strings, each
	// listing a required OS feature.
	OSFeatures []string `json:"os.features,omitempty"`

	// Variant is an optional field specifying a variant of the CPU.
	Variant string `json:"variant,omitempty"`
}

func (p Platform) String() string {
	if p.OS == "" {
		return ""
	}
	s := p.OS + "/" + p.Architecture
	if p.Variant != "" {
		s += "/" + p.Variant
	}
	return s
}
