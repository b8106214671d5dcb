// iikosync - iiko POS to Warehouse ETL
// Copyright 2026 The iikosync Authors
// SPDX-License-Identifier: Apache-2.0
// https://github.com/restokit/iikosync

package iiko

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
)

// Reference data endpoints. Suppliers come from the legacy XML employee
// list, products from the v2 JSON entity list.

// Supplier is one supplier record from the XML list.
type Supplier struct {
	ID      string `xml:"id"`
	Code    string `xml:"code"`
	Name    string `xml:"name"`
	Login   string `xml:"login"`
	Deleted string `xml:"deleted"`
}

// Raw flattens a supplier into the normalizer's input shape.
func (s *Supplier) Raw() map[string]interface{} {
	return map[string]interface{}{
		"id":      s.ID,
		"code":    s.Code,
		"name":    s.Name,
		"login":   s.Login,
		"deleted": s.Deleted,
	}
}

// supplierList is the XML root of the supplier endpoint.
type supplierList struct {
	Suppliers []Supplier `xml:"employee"`
}

// Suppliers returns all supplier records.
func (c *Client) Suppliers(ctx context.Context) ([]Supplier, error) {
	body, err := c.fetch(ctx, "suppliers", http.MethodGet, "/api/suppliers", nil, "", nil)
	if err != nil {
		return nil, err
	}

	var list supplierList
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, &FetchError{
			Endpoint: "suppliers",
			Attempts: 1,
			Err:      fmt.Errorf("decode supplier list: %w", err),
		}
	}

	return list.Suppliers, nil
}

// Products returns the full product catalogue as raw JSON objects.
// The catalogue is wide and versions drift across iiko releases, so the
// rows stay untyped and the product schema picks the fields it needs.
func (c *Client) Products(ctx context.Context) ([]map[string]interface{}, error) {
	query := url.Values{}
	query.Set("includeDeleted", "false")

	body, err := c.fetch(ctx, "products", http.MethodGet, "/api/v2/entities/products/list", query, "", nil)
	if err != nil {
		return nil, err
	}

	var products []map[string]interface{}
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, &FetchError{
			Endpoint: "products",
			Attempts: 1,
			Err:      fmt.Errorf("decode product list: %w", err),
		}
	}

	return products, nil
}
