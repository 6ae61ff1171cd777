package catalog

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Feed is the decoded upstream product payload.
type Feed struct {
	Products []FeedProduct
}

// FeedProduct is one product record of the feed. ID is the external id.
type FeedProduct struct {
	ID       int64
	Title    string
	Handle   *string
	Variants []FeedVariant
}

// FeedVariant is one variant record nested under a FeedProduct.
type FeedVariant struct {
	ID    int64
	Title string
	SKU   *string
	Price *string
}

// wire shapes keep required fields as pointers so that absence is distinguishable from zero values.
type wireFeed struct {
	Products []wireProduct `json:"products" validate:"dive"`
}

type wireProduct struct {
	ID       *int64        `json:"id" validate:"required"`
	Title    *string       `json:"title" validate:"required"`
	Handle   *string       `json:"handle"`
	Variants []wireVariant `json:"variants" validate:"dive"`
}

type wireVariant struct {
	ID    *int64  `json:"id" validate:"required"`
	Title *string `json:"title" validate:"required"`
	SKU   *string `json:"sku"`
	Price *string `json:"price"`
}

var feedValidator = newFeedValidator()

func newFeedValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeFeed parses a feed payload. Unknown fields are ignored; missing products or variants
// lists decode as empty.
func DecodeFeed(data []byte) (Feed, error) {
	var wire wireFeed
	if err := json.Unmarshal(data, &wire); err != nil {
		decodeErr := &DecodeError{Err: err}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			decodeErr.Field = typeErr.Field
		}
		return Feed{}, decodeErr
	}
	if err := feedValidator.Struct(wire); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			return Feed{}, &DecodeError{Field: fieldPath(fieldErrs[0].Namespace()), Err: errors.New("required field missing")}
		}
		return Feed{}, &DecodeError{Err: err}
	}

	feed := Feed{Products: make([]FeedProduct, 0, len(wire.Products))}
	for _, wp := range wire.Products {
		product := FeedProduct{
			ID:       *wp.ID,
			Title:    *wp.Title,
			Handle:   wp.Handle,
			Variants: make([]FeedVariant, 0, len(wp.Variants)),
		}
		for _, wv := range wp.Variants {
			product.Variants = append(product.Variants, FeedVariant{
				ID:    *wv.ID,
				Title: *wv.Title,
				SKU:   wv.SKU,
				Price: wv.Price,
			})
		}
		feed.Products = append(feed.Products, product)
	}
	return feed, nil
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}
