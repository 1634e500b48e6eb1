package service

import "errors"

var ErrCheckoutInProgress = errors.New("checkout already in progress")
