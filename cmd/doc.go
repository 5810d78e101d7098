// Package cmd contains the notably command line interface.
package cmd
