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
	"time"
)

// Document export endpoints. Unlike the OLAP reports these return XML:
// a list of document elements, each with a nested items list. All leaf
// values stay strings here; typed coercion happens in normalization.
const (
	DocTypeIncomingInvoice = "incomingInvoice"
	DocTypeWriteoff        = "writeoff"
)

// exportDateLayout is the date format the export endpoints expect.
const exportDateLayout = "2006-01-02"

// DocumentExport is the parsed root of a document export response.
type DocumentExport struct {
	Documents []Document `xml:"document"`
}

// Document is one back-office document: an incoming invoice or a
// write-off act. Optional elements decode to empty strings.
type Document struct {
	ID           string         `xml:"id"`
	Number       string         `xml:"documentNumber"`
	DateIncoming string         `xml:"dateIncoming"`
	Status       string         `xml:"status"`
	Supplier     string         `xml:"supplier"`
	Store        string         `xml:"defaultStore"`
	Account      string         `xml:"accountToCode"`
	Comment      string         `xml:"comment"`
	Sum          string         `xml:"sum"`
	Items        []DocumentItem `xml:"items>item"`
}

// DocumentItem is one line of a document.
type DocumentItem struct {
	Num       string `xml:"num"`
	ProductID string `xml:"productId"`
	Article   string `xml:"productArticle"`
	Amount    string `xml:"amount"`
	Price     string `xml:"price"`
	Sum       string `xml:"sum"`
	Store     string `xml:"store"`
}

// Raw flattens the document header into the key/value shape the
// normalizer consumes.
func (d *Document) Raw() map[string]interface{} {
	return map[string]interface{}{
		"id":             d.ID,
		"documentNumber": d.Number,
		"dateIncoming":   d.DateIncoming,
		"status":         d.Status,
		"supplier":       d.Supplier,
		"defaultStore":   d.Store,
		"accountToCode":  d.Account,
		"comment":        d.Comment,
		"sum":            d.Sum,
	}
}

// Raw flattens one document line, carrying the parent document id so
// line rows can be keyed back to their document.
func (it *DocumentItem) Raw(documentID string) map[string]interface{} {
	return map[string]interface{}{
		"documentId":     documentID,
		"num":            it.Num,
		"productId":      it.ProductID,
		"productArticle": it.Article,
		"amount":         it.Amount,
		"price":          it.Price,
		"sum":            it.Sum,
		"store":          it.Store,
	}
}

// ExportDocuments pulls all documents of the given type in [from, to).
func (c *Client) ExportDocuments(ctx context.Context, docType string, from, to time.Time) (*DocumentExport, error) {
	query := url.Values{}
	query.Set("from", from.Format(exportDateLayout))
	query.Set("to", to.Format(exportDateLayout))

	endpoint := fmt.Sprintf("documents/%s", docType)
	path := fmt.Sprintf("/api/documents/export/%s", docType)

	body, err := c.fetch(ctx, endpoint, http.MethodGet, path, query, "", nil)
	if err != nil {
		return nil, err
	}

	var export DocumentExport
	if err := xml.Unmarshal(body, &export); err != nil {
		return nil, &FetchError{
			Endpoint: endpoint,
			Attempts: 1,
			Err:      fmt.Errorf("decode %s export: %w", docType, err),
		}
	}

	return &export, nil
}
