// Package cmd implements the planfewer command line interface.
package cmd
