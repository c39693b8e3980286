// Package deps merges the dependency requirements declared by activated
// plugins. Requirements for the same package are intersected as semver
// ranges; an empty intersection is a conflict reported before anything is
// installed. The remaining delta against the target project's manifest is
// handed to an Installer in a single batch.
package deps
