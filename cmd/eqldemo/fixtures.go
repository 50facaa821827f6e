package main

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Robot, Item and Connection are the fixture domain spec.md §8's scenarios
// S1-S6 are defined over.
type Robot struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Battery int      `yaml:"battery"`
	Parts   []string `yaml:"parts,omitempty"`
}

type Item struct {
	Serial string `yaml:"serial"`
	Label  string `yaml:"label"`
}

type Connection struct {
	ID   int `yaml:"id"`
	Type int `yaml:"type"`
}

// View, FixedView and RevoluteView are the rule-tree conclusions of S5:
// every Connection gets a View by default, refined to a FixedView or
// RevoluteView depending on its Type.
type View struct{ Conn *Connection }

type FixedView struct{ Conn *Connection }

type RevoluteView struct{ Conn *Connection }

//go:embed fixtures.yaml
var defaultFixturesYAML []byte

// fixtureSet is the YAML-loadable shape of the demo's scenario domains,
// following the teacher's own pattern of driving tests and examples from
// YAML manifests rather than hardcoded Go literals.
type fixtureSet struct {
	S1Robots      []Robot      `yaml:"s1_robots"`
	S2Items       []Item       `yaml:"s2_items"`
	S3Robots      []Robot      `yaml:"s3_robots"`
	S4Robot       []Robot      `yaml:"s4_robot"`
	S5Connections []Connection `yaml:"s5_connections"`
}

// loadFixtures parses the demo's fixture domain from path, falling back
// to the fixtures embedded at build time when path is empty.
func loadFixtures(path string) (*fixtureSet, error) {
	data := defaultFixturesYAML
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("eqldemo: reading fixtures: %w", err)
		}
		data = b
	}
	var fs fixtureSet
	if err := yaml.Unmarshal(data, &fs); err != nil {
		return nil, fmt.Errorf("eqldemo: parsing fixtures: %w", err)
	}
	return &fs, nil
}

func (fs *fixtureSet) s1Robots() []any { return robotsToAny(fs.S1Robots) }

func (fs *fixtureSet) s2Items() []any { return itemsToAny(fs.S2Items) }

func (fs *fixtureSet) s3Robots() []any { return robotsToAny(fs.S3Robots) }

func (fs *fixtureSet) s4Robot() []any { return robotsToAny(fs.S4Robot) }

func (fs *fixtureSet) s5Connections() []any { return connectionsToAny(fs.S5Connections) }

func robotsToAny(rs []Robot) []any {
	out := make([]any, len(rs))
	for i := range rs {
		out[i] = &rs[i]
	}
	return out
}

func itemsToAny(is []Item) []any {
	out := make([]any, len(is))
	for i := range is {
		out[i] = &is[i]
	}
	return out
}

func connectionsToAny(cs []Connection) []any {
	out := make([]any, len(cs))
	for i := range cs {
		out[i] = &cs[i]
	}
	return out
}
