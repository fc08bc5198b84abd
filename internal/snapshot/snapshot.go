// Copyright (c) 2024 The vecs Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package snapshot implements the binary dump/restore format from
// spec.md §6: a 6-byte magic, an L1 section, and an L2 section, all
// host-endian by design (the cache is explicitly process-local, never
// shared cross-host). Load routes every L2 entry back through the
// normal cluster-assignment insert path so centroids are re-learned
// during restore, per spec.md §4.J.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/riccardogiuriola/vecs/internal/cache"
	"github.com/riccardogiuriola/vecs/internal/logging"
	"github.com/riccardogiuriola/vecs/internal/vectorindex"
)

// magic identifies the file format; load aborts (and the server starts
// empty) if a file does not begin with exactly this.
const magic = "VECS01"

const (
	sectionL1 = 0x01
	sectionL2 = 0x02
)

var byteOrder = binary.NativeEndian

// Save writes L1's unexpired entries, then L2's, to path, creating
// parent directories as needed. Expired entries in either tier are
// dropped silently, matching spec.md §4.J.
func Save(path string, l1 *cache.L1, l2 *vectorindex.Index) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "snapshot: mkdir for %s", path)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "snapshot: create %s", tmp)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.WriteString(magic); err != nil {
		return errors.Wrap(err, "snapshot: write magic")
	}

	if err := saveL1(w, l1); err != nil {
		return errors.Wrap(err, "snapshot: save L1 section")
	}
	if err := saveL2(w, l2); err != nil {
		return errors.Wrap(err, "snapshot: save L2 section")
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "snapshot: flush")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "snapshot: close")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "snapshot: rename %s to %s", tmp, path)
	}
	return nil
}

func saveL1(w *bufio.Writer, l1 *cache.L1) error {
	if err := w.WriteByte(sectionL1); err != nil {
		return err
	}
	var werr error
	l1.Each(func(e cache.SnapshotEntry) {
		if werr != nil {
			return
		}
		werr = writeString(w, e.Key)
		if werr != nil {
			return
		}
		werr = writeString(w, e.Value)
		if werr != nil {
			return
		}
		werr = binary.Write(w, byteOrder, e.Expiry.Unix())
	})
	if werr != nil {
		return werr
	}
	// key_len == 0 terminates the section.
	return binary.Write(w, byteOrder, int32(0))
}

func saveL2(w *bufio.Writer, l2 *vectorindex.Index) error {
	if err := w.WriteByte(sectionL2); err != nil {
		return err
	}
	if err := binary.Write(w, byteOrder, int32(l2.Dim())); err != nil {
		return err
	}

	var werr error
	l2.Each(func(e vectorindex.SnapshotEntry) {
		if werr != nil {
			return
		}
		if werr = w.WriteByte(1); werr != nil {
			return
		}
		for _, f := range e.Vector {
			if werr = binary.Write(w, byteOrder, f); werr != nil {
				return
			}
		}
		if werr = writeString(w, e.Prompt); werr != nil {
			return
		}
		if werr = writeString(w, e.Response); werr != nil {
			return
		}
		werr = binary.Write(w, byteOrder, e.Expiry.Unix())
	})
	if werr != nil {
		return werr
	}
	// valid == 0 terminates the section.
	return w.WriteByte(0)
}

func writeString(w *bufio.Writer, s string) error {
	if err := binary.Write(w, byteOrder, int32(len(s))); err != nil {
		return err
	}
	_, err := w.WriteString(s)
	return err
}

// Load reads path written by Save and restores l1 and l2 in place. Any
// corruption — a bad magic, a malformed section, or an L2 dimension
// mismatch against l2's configured dimension — aborts the load and logs
// a warning; a failure inside either section clears both l1 and l2, so
// nothing from the file is kept and the server starts empty, per
// spec.md §4.J. A missing file is not an error, since a first run has
// nothing to restore.
func Load(path string, l1 *cache.L1, l2 *vectorindex.Index) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "snapshot: open %s", path)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	hdr := make([]byte, len(magic))
	if _, err := io.ReadFull(r, hdr); err != nil || string(hdr) != magic {
		logging.Warnf("snapshot: %s has bad magic, starting empty", path)
		return nil
	}

	if err := loadL1(r, l1); err != nil {
		logging.Warnf("snapshot: L1 section of %s corrupt (%s), starting empty", path, err)
		l1.Clear()
		return nil
	}
	if err := loadL2(r, l2); err != nil {
		logging.Warnf("snapshot: L2 section of %s corrupt (%s), starting empty", path, err)
		l1.Clear()
		l2.Clear()
		return nil
	}
	return nil
}

func loadL1(r *bufio.Reader, l1 *cache.L1) error {
	section, err := r.ReadByte()
	if err != nil {
		return err
	}
	if section != sectionL1 {
		return errors.Errorf("expected L1 section id 0x%02x, got 0x%02x", sectionL1, section)
	}

	now := time.Now()
	for {
		keyLen, err := readInt32(r)
		if err != nil {
			return err
		}
		if keyLen == 0 {
			return nil
		}
		key, err := readString(r, keyLen)
		if err != nil {
			return err
		}
		valLen, err := readInt32(r)
		if err != nil {
			return err
		}
		val, err := readString(r, valLen)
		if err != nil {
			return err
		}
		expireUnix, err := readInt64(r)
		if err != nil {
			return err
		}
		expiry := time.Unix(expireUnix, 0)
		if expiry.After(now) {
			l1.LoadEntry(key, val, expiry)
		}
	}
}

func loadL2(r *bufio.Reader, l2 *vectorindex.Index) error {
	section, err := r.ReadByte()
	if err != nil {
		return err
	}
	if section != sectionL2 {
		return errors.Errorf("expected L2 section id 0x%02x, got 0x%02x", sectionL2, section)
	}

	dimCheck, err := readInt32(r)
	if err != nil {
		return err
	}
	if int(dimCheck) != l2.Dim() {
		return errors.Errorf("dimension mismatch: file has %d, runtime expects %d", dimCheck, l2.Dim())
	}

	for {
		valid, err := r.ReadByte()
		if err != nil {
			return err
		}
		if valid == 0 {
			return nil
		}
		vec := make([]float32, dimCheck)
		for i := range vec {
			f, err := readFloat32(r)
			if err != nil {
				return err
			}
			vec[i] = f
		}
		promptLen, err := readInt32(r)
		if err != nil {
			return err
		}
		prompt, err := readString(r, promptLen)
		if err != nil {
			return err
		}
		respLen, err := readInt32(r)
		if err != nil {
			return err
		}
		resp, err := readString(r, respLen)
		if err != nil {
			return err
		}
		expireUnix, err := readInt64(r)
		if err != nil {
			return err
		}
		expiry := time.Unix(expireUnix, 0)
		if expiry.After(time.Now()) {
			if err := l2.InsertRaw(vec, prompt, resp, expiry); err != nil && err != vectorindex.ErrFull {
				return err
			}
		}
	}
}

func readInt32(r *bufio.Reader) (int32, error) {
	var v int32
	err := binary.Read(r, byteOrder, &v)
	return v, err
}

func readInt64(r *bufio.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, byteOrder, &v)
	return v, err
}

func readFloat32(r *bufio.Reader) (float32, error) {
	var v float32
	err := binary.Read(r, byteOrder, &v)
	return v, err
}

func readString(r *bufio.Reader, n int32) (string, error) {
	if n < 0 {
		return "", errors.Errorf("negative length %d", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
