package main

import (
	"net"
	"net/url"
	"strconv"

	"github.com/skip2/go-qrcode"

	"go2tv.app/tvlink/internal/domain"
)

// pairingURL encodes what a companion needs to dial this TV without
// browsing: the address, the device id and the display name.
func pairingURL(info domain.DeviceInfo) string {
	query := url.Values{
		"id":       {info.ID},
		"name":     {info.Name},
		"platform": {string(info.Platform)},
	}
	u := url.URL{
		Scheme:   "tvlink",
		Host:     net.JoinHostPort(info.Host, strconv.Itoa(int(info.Port))),
		RawQuery: query.Encode(),
	}
	return u.String()
}

func pairingQR(info domain.DeviceInfo) (string, error) {
	qr, err := qrcode.New(pairingURL(info), qrcode.Medium)
	if err != nil {
		return "", err
	}
	return qr.ToSmallString(false), nil
}
