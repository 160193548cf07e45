package service

import (
	"fmt"
)

const (
	productsCachePrefix  = "products:"
	ordersCachePrefix    = "orders:"
	customersCachePrefix = "customers:"
)

func orderCacheKey(id uint) string {
	return fmt.Sprintf("%s%d", ordersCachePrefix, id)
}

func productCacheKey(id uint) string {
	return fmt.Sprintf("%sid:%d", productsCachePrefix, id)
}

func customerCacheKey(id uint) string {
	return fmt.Sprintf("%s%d", customersCachePrefix, id)
}
