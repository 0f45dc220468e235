package webdav

import (
	"encoding/xml"
	"net/http"
	"os"
)

// multistatus is the 207 PROPFIND response body.
type multistatus struct {
	XMLName   xml.Name   `xml:"D:multistatus"`
	Namespace string     `xml:"xmlns:D,attr"`
	Responses []response `xml:"D:response"`
}

type response struct {
	Href     string   `xml:"D:href"`
	Propstat propstat `xml:"D:propstat"`
}

type propstat struct {
	Prop   prop   `xml:"D:prop"`
	Status string `xml:"D:status"`
}

type prop struct {
	DisplayName   string       `xml:"D:displayname"`
	ContentLength *int64       `xml:"D:getcontentlength,omitempty"`
	LastModified  string       `xml:"D:getlastmodified"`
	ETag          string       `xml:"D:getetag,omitempty"`
	ResourceType  resourceType `xml:"D:resourcetype"`
}

type resourceType struct {
	Collection *struct{} `xml:"D:collection,omitempty"`
}

// responseFor builds one multistatus entry from a stat result.
func responseFor(href string, info os.FileInfo) response {
	p := prop{
		DisplayName:  info.Name(),
		LastModified: info.ModTime().UTC().Format(http.TimeFormat),
	}
	if info.IsDir() {
		p.ResourceType.Collection = &struct{}{}
	} else {
		size := info.Size()
		p.ContentLength = &size
		p.ETag = etagFor(info)
	}
	return response{
		Href: href,
		Propstat: propstat{
			Prop:   p,
			Status: "HTTP/1.1 200 OK",
		},
	}
}

func writeMultistatus(w http.ResponseWriter, ms *multistatus) {
	w.Header().Set("Content-Type", `application/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusMultiStatus)
	w.Write([]byte(xml.Header))
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	enc.Encode(ms)
}
