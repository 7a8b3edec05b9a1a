package di

import (
	"fmt"

	"github.com/alpacahq/colstore/catalog"
	"github.com/alpacahq/colstore/column"
)

func (c *Container) GetCatalogDir() (*catalog.Directory, error) {
	if c.catalogDir != nil {
		return c.catalogDir, nil
	}
	rootDir, err := c.GetAbsRootDir()
	if err != nil {
		return nil, err
	}
	enc, err := column.EncodingByName(c.cfg.Encoding)
	if err != nil {
		return nil, err
	}

	catalogDir, err := catalog.NewDirectory(rootDir, c.cfg.DataBitHint, c.cfg.IndexBitHint,
		column.WithEncoding(enc))
	if err != nil {
		return nil, fmt.Errorf("could not open the column directory: %w", err)
	}
	c.catalogDir = catalogDir
	return c.catalogDir, nil
}
