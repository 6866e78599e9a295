package config

import (
	"errors"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
}

func TestDefaultConstants(t *testing.T) {
	c := Default()
	if c.NumLevels != 7 {
		t.Errorf("NumLevels = %d, want 7", c.NumLevels)
	}
	if c.FenceHashSeed != 42 {
		t.Errorf("FenceHashSeed = %d, want 42", c.FenceHashSeed)
	}
	if c.FenceTopLevelBits != 27 || c.FenceBitDecrement != 2 {
		t.Errorf("bit schedule = (%d, %d), want (27, 2)",
			c.FenceTopLevelBits, c.FenceBitDecrement)
	}
}

func TestLevelBits(t *testing.T) {
	c := Default()
	want := []int{27, 25, 23, 21, 19, 17, 15}
	for level, bits := range want {
		if got := c.LevelBits(level); got != bits {
			t.Errorf("LevelBits(%d) = %d, want %d", level, got, bits)
		}
	}
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Config)
		want error
	}{
		{"zero levels", func(c *Config) { c.NumLevels = 0 }, ErrInvalidLevels},
		{"negative levels", func(c *Config) { c.NumLevels = -1 }, ErrInvalidLevels},
		{"schedule hits zero", func(c *Config) { c.NumLevels = 20 }, ErrInvalidBitSchedule},
		{"bits too wide", func(c *Config) { c.FenceTopLevelBits = 32 }, ErrInvalidBitSchedule},
		{"unknown hash", func(c *Config) { c.FenceHashFunc = FenceHash(9) }, ErrInvalidHash},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mod(&c)
			if err := c.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidLevel(t *testing.T) {
	c := Default()
	if !c.ValidLevel(0) || !c.ValidLevel(6) {
		t.Error("levels 0 and 6 should be valid")
	}
	if c.ValidLevel(-1) || c.ValidLevel(7) {
		t.Error("levels -1 and 7 should be invalid")
	}
}
