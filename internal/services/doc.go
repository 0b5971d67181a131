// Package services holds the error taxonomy and context helpers shared by the
// external collaborator clients under this directory.
package services
