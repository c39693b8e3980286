// Package project manages the .kiln/project.yaml record kept in every
// activated project. The record lists the plugins applied so far and the
// digest of each file kiln left behind, so later runs can tell generated
// content from user edits.
package project
