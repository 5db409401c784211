// Package handler 按领域划分子包存放 HTTP Handler
//
// distribution 为分销商自身接口，admin 为运营后台接口
package handler
