// Package config defines the installer settings and loads them from YAML.
//
// Every field has a default, so the settings file is optional; flags given on
// the command line override whatever the file contains.
package config
