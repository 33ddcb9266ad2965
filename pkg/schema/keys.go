// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package schema

// Key layout shared by every store binding. Project-owned blobs all live
// under project/{id}/ so a single prefix delete cascades; upload sessions
// live under upload-session/{projectId}/ for the same reason.

const (
	// ProjectsPrefix is the listing prefix for project metadata keys.
	ProjectsPrefix = "project/"
	// SessionsPrefix is the listing prefix for upload-session keys.
	SessionsPrefix = "upload-session/"
	// ModuleManifestName is the fixed key suffix of the server-code manifest.
	ModuleManifestName = "MANIFEST"
)

// MetadataKey is the project metadata record.
func MetadataKey(projectID string) string {
	return ProjectsPrefix + projectID + "/metadata"
}

// AssetKey is a content-addressed asset blob.
func AssetKey(projectID, hash string) string {
	return ProjectsPrefix + projectID + "/asset/" + hash
}

// ManifestKey is the binary asset manifest blob.
func ManifestKey(projectID string) string {
	return ProjectsPrefix + projectID + "/manifest"
}

// ModuleKey is a content-addressed server-code module blob.
func ModuleKey(projectID, hash string) string {
	return ModulePrefix(projectID) + hash
}

// ModuleManifestKey is the JSON server-code manifest.
func ModuleManifestKey(projectID string) string {
	return ModulePrefix(projectID) + ModuleManifestName
}

// SessionKey is one upload-session record.
func SessionKey(projectID, sessionID string) string {
	return SessionPrefix(projectID) + sessionID
}

// ProjectPrefix covers every blob owned by a project.
func ProjectPrefix(projectID string) string {
	return ProjectsPrefix + projectID + "/"
}

// ModulePrefix covers a project's server-code blobs.
func ModulePrefix(projectID string) string {
	return ProjectsPrefix + projectID + "/module/"
}

// SessionPrefix covers a project's upload sessions.
func SessionPrefix(projectID string) string {
	return SessionsPrefix + projectID + "/"
}
