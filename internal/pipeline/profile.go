package pipeline

import "fmt"

// QualityProfile is one rung of the output ladder. Each profile drives an
// independent encode/package chain fed from the same normalized signal.
// Profiles are immutable for the process lifetime.
type QualityProfile struct {
	Name        string
	Width       int
	Height      int
	BitrateKbps int
}

// DefaultProfiles returns the two-rung ladder served by default:
// full HD at 5 Mbit/s and HD at 3 Mbit/s.
func DefaultProfiles() []QualityProfile {
	return []QualityProfile{
		{Name: "fullhd", Width: 1920, Height: 1080, BitrateKbps: 5000},
		{Name: "hd", Width: 1280, Height: 720, BitrateKbps: 3000},
	}
}

// bitrateBits converts the profile bitrate to bit/s, the unit openh264enc
// expects for its bitrate property.
func (p QualityProfile) bitrateBits() int {
	return p.BitrateKbps * 1000
}

func (p QualityProfile) validate() error {
	if p.Name == "" {
		return fmt.Errorf("profile name is required")
	}
	if p.Width <= 0 || p.Height <= 0 {
		return fmt.Errorf("profile %s: invalid resolution %dx%d", p.Name, p.Width, p.Height)
	}
	if p.BitrateKbps <= 0 {
		return fmt.Errorf("profile %s: invalid bitrate %d kbit/s", p.Name, p.BitrateKbps)
	}
	return nil
}

func validateProfiles(profiles []QualityProfile) error {
	if len(profiles) == 0 {
		return fmt.Errorf("at least one quality profile is required")
	}
	seen := make(map[string]bool, len(profiles))
	for _, p := range profiles {
		if err := p.validate(); err != nil {
			return err
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
