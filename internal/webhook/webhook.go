// Package webhook normalises inbound registry push notifications into the
// shape the update queue wants: which image repository moved, to which tag,
// announced by which registry. Docker Hub, GHCR package events, and a
// generic {image, tag} form are recognised; anything else parses to an
// unmatched Notification the caller acknowledges without queueing.
package webhook

import (
	"encoding/json"
	"errors"
	"strings"
)

// Notification is one normalised registry push announcement.
type Notification struct {
	Repo     string // image repository, e.g. "kaspanet/kaspad", "ghcr.io/org/app"
	Tag      string // pushed tag, empty for digest-only pushes
	Registry string // "dockerhub", "ghcr", "generic", or "unknown"
	Event    string // upstream event name where the payload carries one
}

// ErrEmptyBody is returned when the request carried no payload at all.
var ErrEmptyBody = errors.New("empty webhook body")

// detector inspects the decoded top-level keys and, when its discriminator
// key is present, attempts a full parse. Returning ok=false falls through
// to the next detector.
type detector struct {
	key   string
	parse func(body []byte) (Notification, bool)
}

var detectors = []detector{
	{key: "push_data", parse: fromDockerHub},
	{key: "package", parse: fromGHCR},
	{key: "image", parse: fromGeneric},
}

// Parse decodes body and normalises it through the first matching detector.
// A syntactically valid payload no detector claims yields a Notification
// with Registry "unknown" and no error, since registries retry on non-2xx
// responses and an unrecognised format is not worth a retry storm.
func Parse(body []byte) (*Notification, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return nil, errors.New("malformed webhook JSON: " + err.Error())
	}
	for _, d := range detectors {
		if _, present := top[d.key]; !present {
			continue
		}
		if n, ok := d.parse(body); ok {
			return &n, nil
		}
	}
	return &Notification{Registry: "unknown"}, nil
}

// fromDockerHub handles Docker Hub's repository webhook:
// {"push_data":{"tag":...},"repository":{"repo_name":...,"name":...}}.
func fromDockerHub(body []byte) (Notification, bool) {
	var hub struct {
		PushData struct {
			Tag string `json:"tag"`
		} `json:"push_data"`
		Repository struct {
			RepoName string `json:"repo_name"`
			Name     string `json:"name"`
		} `json:"repository"`
	}
	if json.Unmarshal(body, &hub) != nil {
		return Notification{}, false
	}
	repo := hub.Repository.RepoName
	if repo == "" {
		repo = hub.Repository.Name
	}
	if repo == "" {
		return Notification{}, false
	}
	return Notification{Repo: repo, Tag: hub.PushData.Tag, Registry: "dockerhub", Event: "push"}, true
}

// fromGHCR handles GitHub's container package event; the repository is
// reconstructed as ghcr.io/<namespace>/<name>.
func fromGHCR(body []byte) (Notification, bool) {
	var gh struct {
		Action  string `json:"action"`
		Package struct {
			Name           string `json:"name"`
			Namespace      string `json:"namespace"`
			PackageVersion struct {
				ContainerMetadata struct {
					Tag struct {
						Name string `json:"name"`
					} `json:"tag"`
				} `json:"container_metadata"`
			} `json:"package_version"`
		} `json:"package"`
	}
	if json.Unmarshal(body, &gh) != nil || gh.Package.Name == "" {
		return Notification{}, false
	}
	repo := "ghcr.io/" + gh.Package.Name
	if gh.Package.Namespace != "" {
		repo = "ghcr.io/" + gh.Package.Namespace + "/" + gh.Package.Name
	}
	return Notification{
		Repo:     repo,
		Tag:      gh.Package.PackageVersion.ContainerMetadata.Tag.Name,
		Registry: "ghcr",
		Event:    gh.Action,
	}, true
}

// fromGeneric handles the minimal CI form {"image": "repo[:tag]", "tag"?: ...}.
func fromGeneric(body []byte) (Notification, bool) {
	var gen struct {
		Image string `json:"image"`
		Tag   string `json:"tag"`
	}
	if json.Unmarshal(body, &gen) != nil || gen.Image == "" {
		return Notification{}, false
	}
	repo, tag := gen.Image, gen.Tag
	if tag == "" {
		repo, tag = splitRef(repo)
	}
	return Notification{Repo: repo, Tag: tag, Registry: "generic"}, true
}

// splitRef splits "repo:tag", leaving a registry host:port colon alone.
func splitRef(ref string) (repo, tag string) {
	idx := strings.LastIndex(ref, ":")
	if idx < 0 || strings.Contains(ref[idx+1:], "/") {
		return ref, ""
	}
	return ref[:idx], ref[idx+1:]
}
