package models

// PhotoDoc is one cached listing photo, keyed by the feed's photo id so
// re-runs refresh URIs instead of duplicating documents.
type PhotoDoc struct {
	ListingID string `bson:"listingId" json:"listingId"`
	PhotoID   string `bson:"photoId" json:"photoId"`
	Caption   string `bson:"caption,omitempty" json:"caption,omitempty"`
	UriThumb  string `bson:"uriThumb,omitempty" json:"uriThumb,omitempty"`
	Uri300    string `bson:"uri300,omitempty" json:"uri300,omitempty"`
	Uri640    string `bson:"uri640,omitempty" json:"uri640,omitempty"`
	Uri800    string `bson:"uri800,omitempty" json:"uri800,omitempty"`
	Uri1024   string `bson:"uri1024,omitempty" json:"uri1024,omitempty"`
	Uri1280   string `bson:"uri1280,omitempty" json:"uri1280,omitempty"`
	Uri1600   string `bson:"uri1600,omitempty" json:"uri1600,omitempty"`
	Uri2048   string `bson:"uri2048,omitempty" json:"uri2048,omitempty"`
	UriLarge  string `bson:"uriLarge,omitempty" json:"uriLarge,omitempty"`
	Primary   bool   `bson:"primary" json:"primary"`
}
