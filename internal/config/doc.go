// Package config loads the yaml configuration shared by the coordinator and
// replica commands.
package config
