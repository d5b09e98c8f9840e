// Package config holds the YAML-backed run parameters shared by the command
// line tools.
package config

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ghodss/yaml"

	"github.com/dglocal/dglocal/element"
	"github.com/dglocal/dglocal/plan"
)

// Device mirrors plan.DeviceData plus the OCCA mode selection; zero fields
// fall back to the planner defaults.
type Device struct {
	Mode               string `yaml:"Mode"` // Serial, OpenMP, CUDA
	DeviceID           int    `yaml:"DeviceID"`
	SharedMemBytes     int    `yaml:"SharedMemBytes"`
	MaxRegisters       int    `yaml:"MaxRegisters"`
	WarpSize           int    `yaml:"WarpSize"`
	AlignBytes         int    `yaml:"AlignBytes"`
	MaxThreadsPerBlock int    `yaml:"MaxThreadsPerBlock"`
}

// Parameters obtained from the YAML input file.
type Parameters struct {
	Title           string   `yaml:"Title"`
	ElementKind     string   `yaml:"ElementKind"` // interval, triangle, tetrahedron
	PolynomialOrder int      `yaml:"PolynomialOrder"`
	FloatBits       int      `yaml:"FloatBits"` // 32 or 64
	Device          Device   `yaml:"Device"`
	Debug           []string `yaml:"Debug"`
	Instrumented    bool     `yaml:"Instrumented"`
}

// Defaults returns the parameters a run gets without an input file.
func Defaults() Parameters {
	return Parameters{
		Title:           "local operators",
		ElementKind:     "tetrahedron",
		PolynomialOrder: 3,
		FloatBits:       64,
	}
}

// Parse overlays YAML input onto the receiver.
func (p *Parameters) Parse(data []byte) error {
	return yaml.Unmarshal(data, p)
}

// Kind resolves the element kind name.
func (p *Parameters) Kind() (element.Kind, error) {
	switch strings.ToLower(p.ElementKind) {
	case "interval":
		return element.Interval, nil
	case "triangle":
		return element.Triangle, nil
	case "tetrahedron", "tet":
		return element.Tetrahedron, nil
	}
	return 0, fmt.Errorf("config: unknown element kind %q", p.ElementKind)
}

// FloatType resolves the device float width.
func (p *Parameters) FloatType() (plan.DataType, error) {
	switch p.FloatBits {
	case 32:
		return plan.Float32, nil
	case 0, 64:
		return plan.Float64, nil
	}
	return 0, fmt.Errorf("config: FloatBits must be 32 or 64, got %d", p.FloatBits)
}

// DeviceData merges the configured limits over the planner defaults.
func (p *Parameters) DeviceData() plan.DeviceData {
	dd := plan.DefaultDeviceData()
	if p.Device.SharedMemBytes > 0 {
		dd.SharedMemBytes = p.Device.SharedMemBytes
	}
	if p.Device.MaxRegisters > 0 {
		dd.MaxRegisters = p.Device.MaxRegisters
	}
	if p.Device.WarpSize > 0 {
		dd.WarpSize = p.Device.WarpSize
	}
	if p.Device.AlignBytes > 0 {
		dd.AlignBytes = p.Device.AlignBytes
	}
	if p.Device.MaxThreadsPerBlock > 0 {
		dd.MaxThreadsPerBlock = p.Device.MaxThreadsPerBlock
	}
	return dd
}

// OCCAProps renders the device selection as OCCA JSON properties.
func (p *Parameters) OCCAProps() string {
	mode := p.Device.Mode
	if mode == "" {
		mode = "Serial"
	}
	if mode == "CUDA" {
		return fmt.Sprintf(`{"mode": "CUDA", "device_id": %d}`, p.Device.DeviceID)
	}
	return fmt.Sprintf(`{"mode": %q}`, mode)
}

func (p *Parameters) Print() {
	fmt.Printf("\"%s\"\t\t= Title\n", p.Title)
	fmt.Printf("[%s]\t\t= Element Kind\n", p.ElementKind)
	fmt.Printf("[%d]\t\t\t= Polynomial Order\n", p.PolynomialOrder)
	fmt.Printf("[%d]\t\t\t= Float Bits\n", p.FloatBits)
	fmt.Printf("[%s]\t\t= Device\n", p.OCCAProps())
	debug := append([]string(nil), p.Debug...)
	sort.Strings(debug)
	for _, flag := range debug {
		fmt.Printf("Debug[%s]\n", flag)
	}
}
