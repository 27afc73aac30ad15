package webdav

import (
	"github.com/icloudmcp/go-webdav/internal"
)

var currentUserPrincipalPropfind = internal.NewPropNamePropfind(internal.CurrentUserPrincipalName)
