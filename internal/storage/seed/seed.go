// Package seed decodes the development catalog and address book.
package seed

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/takeout/internal/domain/address"
	"github.com/xenking/takeout/internal/domain/catalog"
)

// Data is the decoded seed file. Item and address IDs are left zero; stores
// assign them.
type Data struct {
	Dishes    []catalog.Item
	SetMeals  []catalog.Item
	Addresses []address.Address
}

// Parse decodes {"dishes":[..],"setmeals":[..],"addresses":[..]}.
func Parse(data []byte) (*Data, error) {
	var out Data
	err := jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "dishes":
			err = decodeItems(d, &out.Dishes)
		case "setmeals":
			err = decodeItems(d, &out.SetMeals)
		case "addresses":
			err = decodeAddresses(d, &out.Addresses)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, string(key))
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode seed")
	}
	return &out, nil
}

func decodeItems(d *jx.Decoder, items *[]catalog.Item) error {
	return d.Arr(func(d *jx.Decoder) error {
		var item catalog.Item
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "name":
				item.Name, err = d.Str()
			case "image":
				item.Image, err = d.Str()
			case "price":
				var s string
				if s, err = d.Str(); err == nil {
					item.Price, err = decimal.NewFromString(s)
				}
			default:
				return d.Skip()
			}
			if err != nil {
				return errors.Wrap(err, string(key))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if item.Name == "" || !item.Price.IsPositive() {
			return errors.Errorf("item %q: name and positive price required", item.Name)
		}
		*items = append(*items, item)
		return nil
	})
}

func decodeAddresses(d *jx.Decoder, addrs *[]address.Address) error {
	return d.Arr(func(d *jx.Decoder) error {
		var a address.Address
		err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "userId":
				a.UserID, err = d.Int64()
			case "consignee":
				a.Consignee, err = d.Str()
			case "phone":
				a.Phone, err = d.Str()
			case "province":
				a.Province, err = d.Str()
			case "city":
				a.City, err = d.Str()
			case "district":
				a.District, err = d.Str()
			case "detail":
				a.Detail, err = d.Str()
			default:
				return d.Skip()
			}
			if err != nil {
				return errors.Wrap(err, string(key))
			}
			return nil
		})
		if err != nil {
			return err
		}
		if a.UserID <= 0 {
			return errors.Errorf("address of %q: userId required", a.Consignee)
		}
		*addrs = append(*addrs, a)
		return nil
	})
}
