// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"bufio"
	"context"
	"io"

	"github.com/gorse-io/reel/base/encoding"
	"github.com/gorse-io/reel/storage/blob"
	"github.com/juju/errors"
)

const (
	KindContent       = "content"
	KindCollaborative = "collaborative"
)

const (
	artifactMagic = "REELMDL\x00"
	FormatVersion = 1
)

// ErrCorruptArtifact is returned when a cached artifact exists but cannot be decoded.
var ErrCorruptArtifact = errors.NotValidf("model artifact")

// Artifact is a model that can be persisted in the model cache.
type Artifact interface {
	Marshal(w io.Writer) error
}

// ModelCache persists model artifacts keyed by kind. Every artifact starts with a header
// of magic, kind, format version and the fingerprint of the snapshot it was built from.
type ModelCache struct {
	store blob.Store
}

func NewModelCache(store blob.Store) *ModelCache {
	return &ModelCache{store: store}
}

func objectName(kind string) string {
	return kind + ".model"
}

// Load an artifact. The payload is passed to decode and the stored fingerprint is
// returned. A missing artifact is a miss, not an error.
func (c *ModelCache) Load(ctx context.Context, kind string, decode func(r io.Reader) error) (fingerprint string, found bool, err error) {
	r, err := c.store.Open(ctx, objectName(kind))
	if errors.Is(err, blob.ErrObjectNotExist) {
		return "", false, nil
	} else if err != nil {
		return "", false, errors.Trace(err)
	}
	defer r.Close()
	reader := bufio.NewReader(r)
	corrupt := func(cause error) error {
		return errors.Annotatef(ErrCorruptArtifact, "%s: %v", kind, cause)
	}

	magic := make([]byte, len(artifactMagic))
	if _, err = io.ReadFull(reader, magic); err != nil {
		return "", false, corrupt(err)
	}
	if string(magic) != artifactMagic {
		return "", false, corrupt(errors.New("bad magic"))
	}
	storedKind, err := encoding.ReadString(reader)
	if err != nil {
		return "", false, corrupt(err)
	}
	if storedKind != kind {
		return "", false, corrupt(errors.Errorf("unexpected kind %q", storedKind))
	}
	version, err := encoding.ReadInt64(reader)
	if err != nil {
		return "", false, corrupt(err)
	}
	if version != FormatVersion {
		return "", false, corrupt(errors.Errorf("unsupported format version %d", version))
	}
	if fingerprint, err = encoding.ReadString(reader); err != nil {
		return "", false, corrupt(err)
	}
	if err = decode(reader); err != nil {
		return "", false, corrupt(err)
	}
	return fingerprint, true, nil
}

// Save an artifact, overwriting any previous one. Readers never observe a partial artifact.
func (c *ModelCache) Save(ctx context.Context, kind, fingerprint string, artifact Artifact) error {
	w, err := c.store.Create(ctx, objectName(kind))
	if err != nil {
		return errors.Trace(err)
	}
	writer := bufio.NewWriter(w)
	err = writeArtifact(writer, kind, fingerprint, artifact)
	if err == nil {
		err = writer.Flush()
	}
	if err != nil {
		w.Abort(err)
		return errors.Trace(err)
	}
	return errors.Trace(w.Close())
}

func writeArtifact(w io.Writer, kind, fingerprint string, artifact Artifact) error {
	if _, err := io.WriteString(w, artifactMagic); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteString(w, kind); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteInt64(w, FormatVersion); err != nil {
		return errors.Trace(err)
	}
	if err := encoding.WriteString(w, fingerprint); err != nil {
		return errors.Trace(err)
	}
	return artifact.Marshal(w)
}

// Purge removes the artifact of a kind.
func (c *ModelCache) Purge(ctx context.Context, kind string) error {
	return errors.Trace(c.store.Remove(ctx, objectName(kind)))
}
