//go:build !rai_live && !rai_beta

package config

// ActiveProfile returns the build-selected network profile.
func ActiveProfile() *Profile {
	return &TestProfile
}
