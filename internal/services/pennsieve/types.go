package pennsieve

import (
	"strconv"
	"strings"
	"time"
)

// Dataset is a published dataset as returned by the discover API.
type Dataset struct {
	ID               int       `json:"id"`
	SourceDatasetID  int       `json:"sourceDatasetId,omitempty"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	OwnerName        string    `json:"ownerFirstName,omitempty"`
	Organization     string    `json:"organizationName,omitempty"`
	License          string    `json:"license,omitempty"`
	Tags             []string  `json:"tags,omitempty"`
	Version          int       `json:"version"`
	Size             int64     `json:"size"`
	FileCount        int       `json:"fileCount,omitempty"`
	DOI              string    `json:"doi,omitempty"`
	URI              string    `json:"uri,omitempty"`
	Banner           string    `json:"banner,omitempty"`
	Status           string    `json:"status,omitempty"`
	FirstPublishedAt time.Time `json:"firstPublishedAt,omitempty"`
	VersionPublished time.Time `json:"versionPublishedAt,omitempty"`
}

// DatasetPage is one page of a dataset listing.
type DatasetPage struct {
	Limit      int       `json:"limit"`
	Offset     int       `json:"offset"`
	TotalCount int       `json:"totalCount"`
	Datasets   []Dataset `json:"datasets"`
}

// File is a published file found by the file search.
type File struct {
	Name            string    `json:"name"`
	DatasetID       int       `json:"datasetId"`
	DatasetVersion  int       `json:"datasetVersion"`
	FileType        string    `json:"fileType"`
	PackageType     string    `json:"packageType,omitempty"`
	Size            int64     `json:"size"`
	URI             string    `json:"uri"`
	SourcePackageID string    `json:"sourcePackageId,omitempty"`
	CreatedAt       time.Time `json:"createdAt,omitempty"`
}

// Path returns the location of the file relative to its dataset root, the
// form the download manifest expects. The URI looks like
// s3://bucket/<datasetId>/files/primary/x.json.
func (f File) Path() string {
	uri := strings.TrimPrefix(f.URI, "s3://")
	marker := "/" + strconv.Itoa(f.DatasetID) + "/"
	if i := strings.Index(uri, marker); i >= 0 {
		return uri[i+len(marker):]
	}
	if i := strings.Index(uri, "/files/"); i >= 0 {
		return uri[i+1:]
	}
	return f.Name
}

// FilePage is one page of a file search.
type FilePage struct {
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
	TotalCount int    `json:"totalCount"`
	Files      []File `json:"files"`
}

type manifestRequest struct {
	Paths []string `json:"paths"`
}

// Manifest lists presigned download URLs for a set of dataset paths.
type Manifest struct {
	Header ManifestHeader  `json:"header"`
	Data   []ManifestEntry `json:"data"`
}

// ManifestHeader summarises a manifest.
type ManifestHeader struct {
	Count int   `json:"count"`
	Size  int64 `json:"size"`
}

// ManifestEntry describes one downloadable file.
type ManifestEntry struct {
	Name          string   `json:"name"`
	Path          []string `json:"path"`
	URL           string   `json:"url"`
	Size          int64    `json:"size"`
	FileExtension string   `json:"fileExtension,omitempty"`
}
