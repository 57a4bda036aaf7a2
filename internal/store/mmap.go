// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package store

import (
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// mmapBacking memory-maps the snapshot file. The OS manages the pages;
// Flush forces them to disk.
type mmapBacking struct {
	file *os.File
	data mmap.MMap
}

func openMmap(path string) (*Cache, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.Size() != int64(totalSize) {
		if err := f.Truncate(int64(totalSize)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize snapshot file: %w", err)
		}
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	return &Cache{
		data:    data,
		backing: &mmapBacking{file: f, data: data},
	}, nil
}

func (mb *mmapBacking) Flush() error {
	if mb.data == nil {
		return fmt.Errorf("mmap data is nil")
	}
	return mb.data.Flush()
}

func (mb *mmapBacking) Close() error {
	var err error
	if mb.data != nil {
		if e := mb.data.Unmap(); e != nil {
			err = e
		}
		mb.data = nil
	}
	if mb.file != nil {
		if e := mb.file.Close(); e != nil {
			err = e
		}
		mb.file = nil
	}
	return err
}
