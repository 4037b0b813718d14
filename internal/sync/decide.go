package sync

import (
	"context"
	"fmt"
	"net/http"

	"github.com/schaermu/b6psync/internal/integrity"
	"github.com/schaermu/b6psync/internal/location"
	"github.com/schaermu/b6psync/internal/script"
)

// ReasonToNotPush runs the push decision chain for n and returns the first
// reason found, or "" when n should be pushed. The checks run cheapest
// first; only the last one talks to the remote store.
func (e *Engine) ReasonToNotPush(ctx context.Context, n script.Node, overrideURL string) (string, error) {
	loc := n.Location()
	root := n.Root()

	if loc.IsRoot() {
		return ReasonRoot, nil
	}
	if loc.Zone == location.ZoneMetadataFile {
		return ReasonMetadataFile, nil
	}
	if loc.Zone == location.ZoneDeclarations {
		return ReasonDeclarations, nil
	}

	isModel, err := root.IsExternalModel(loc)
	if err != nil {
		return "", fmt.Errorf("failed to check external models for %s: %w", loc.Rel(), err)
	}
	if isModel {
		return ReasonExternalModel, nil
	}

	if root.IsIgnored(loc) {
		return ReasonIgnored, nil
	}
	if loc.Zone == location.ZoneDraft && (loc.HasPrefix(script.InfoDir) || loc.HasPrefix(script.ObjectsDir)) {
		return ReasonInfoObjects, nil
	}
	if n.IsFolder() {
		return ReasonFolder, nil
	}

	matches, err := e.integrityMatches(ctx, n, overrideURL)
	if err != nil {
		return "", err
	}
	if matches {
		return ReasonIntegrityMatches, nil
	}
	return "", nil
}

// integrityMatches compares the local content of n with the hash the remote
// store reports for it. A file the remote does not have never matches.
func (e *Engine) integrityMatches(ctx context.Context, n script.Node, overrideURL string) (bool, error) {
	url, err := resolveURL(n, overrideURL)
	if err != nil {
		return false, err
	}

	data, err := readFile(n)
	if err != nil {
		return false, err
	}

	resp, err := e.client.Head(ctx, url)
	if err != nil {
		return false, err
	}
	if resp.StatusCode == http.StatusNotFound {
		e.logger.Debug("remote file does not exist yet", "url", url)
		return false, nil
	}

	remoteHash, err := parseETag(resp.ETag)
	if err != nil {
		return false, fmt.Errorf("failed to check integrity of %s: %w", n.Location().Rel(), err)
	}
	if !remoteHash.Known() {
		e.logger.Debug("remote integrity unknown, not comparing", "url", url, "etag", resp.ETag)
		return false, nil
	}

	return integrity.Matches(integrity.LocalHash(data), remoteHash), nil
}

// parseETag treats an absent header as unknown integrity; a present header
// must have one of the supported shapes.
func parseETag(header string) (integrity.RemoteHash, error) {
	if header == "" {
		return integrity.RemoteHash{}, nil
	}
	return integrity.ParseETag(header)
}

func resolveURL(n script.Node, overrideURL string) (string, error) {
	if overrideURL != "" {
		return overrideURL, nil
	}
	return n.RemoteURL()
}
