package pricing

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/go-playground/validator/v10"
	extErrors "github.com/pkg/errors"
)

// Product is a sellable VPS configuration
type Product struct {
	ID        string `json:"id" validate:"required"`
	Name      string `json:"name" validate:"required"`
	BaseCents int64  `json:"baseCents" validate:"gte=0"`
	Cores     int    `json:"cores" validate:"gte=1"`
	RAMMB     int    `json:"ramMb" validate:"gte=256"`
	DiskGB    int    `json:"diskGb" validate:"gte=1"`
}

// Region is a deployable location with its price adjustment
type Region struct {
	Code            string `json:"code" validate:"required"`
	Name            string `json:"name" validate:"required"`
	AdjustmentCents int64  `json:"adjustmentCents"`
}

// Image is an OS image with its price adjustment (e.g. licensed editions)
type Image struct {
	ID              string `json:"id" validate:"required"`
	Name            string `json:"name" validate:"required"`
	AdjustmentCents int64  `json:"adjustmentCents"`
}

type catalogFile struct {
	Products []Product `json:"products" validate:"required,min=1,dive"`
	Regions  []Region  `json:"regions" validate:"required,min=1,dive"`
	Images   []Image   `json:"images" validate:"dive"`
}

// Catalog supplies the three-part price breakdown at order creation time.
// Prices quoted here are frozen into the order; later catalog changes never
// retroactively alter existing orders.
type Catalog struct {
	products map[string]Product
	regions  map[string]Region
	images   map[string]Image
}

// Quote is the per-month price breakdown for a product in a region with an image
type Quote struct {
	BaseCents   int64
	RegionCents int64
	OSCents     int64

	// ImageID is empty when the requested image could not be resolved
	ImageID string
}

// TotalCents is the invariant sum the order freezes at creation
func (q Quote) TotalCents() int64 {
	return q.BaseCents + q.RegionCents + q.OSCents
}

// ForMonths scales every part of the breakdown to the full billing term, so
// the frozen order amounts keep total == base + region + os
func (q Quote) ForMonths(months int) Quote {
	q.BaseCents *= int64(months)
	q.RegionCents *= int64(months)
	q.OSCents *= int64(months)
	return q
}

// LoadCatalog reads and validates the catalog JSON file
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, extErrors.Wrap(err, "Cannot open catalog file")
	}
	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, extErrors.Wrap(err, "Invalid catalog JSON")
	}
	if err := validator.New().Struct(&file); err != nil {
		return nil, extErrors.Wrap(err, "Catalog failed validation")
	}
	return NewCatalog(file.Products, file.Regions, file.Images), nil
}

// NewCatalog builds a Catalog from already-validated entries
func NewCatalog(products []Product, regions []Region, images []Image) *Catalog {
	c := &Catalog{
		products: make(map[string]Product),
		regions:  make(map[string]Region),
		images:   make(map[string]Image),
	}
	for _, p := range products {
		c.products[p.ID] = p
	}
	for _, r := range regions {
		c.regions[r.Code] = r
	}
	for _, i := range images {
		c.images[i.ID] = i
	}
	return c
}

// Quote resolves the three-part breakdown. Unknown products and regions are
// hard failures; an unknown image degrades to "unset" so order creation is
// not blocked (an administrator fills the image in during provisioning).
func (c *Catalog) Quote(productID, regionCode, imageID string) (Quote, error) {
	product, ok := c.products[productID]
	if !ok {
		return Quote{}, fmt.Errorf("unknown product %q", productID)
	}
	region, ok := c.regions[regionCode]
	if !ok {
		return Quote{}, fmt.Errorf("unknown region %q", regionCode)
	}

	quote := Quote{
		BaseCents:   product.BaseCents,
		RegionCents: region.AdjustmentCents,
	}
	if imageID != "" {
		if image, ok := c.images[imageID]; ok {
			quote.OSCents = image.AdjustmentCents
			quote.ImageID = image.ID
		}
	}
	return quote, nil
}

// Image resolves an image by ID
func (c *Catalog) Image(id string) (Image, bool) {
	image, ok := c.images[id]
	return image, ok
}
