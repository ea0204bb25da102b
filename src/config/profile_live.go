//go:build rai_live

package config

// ActiveProfile returns the build-selected network profile.
func ActiveProfile() *Profile {
	return &LiveProfile
}
