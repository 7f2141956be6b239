// internal/pkg/utils/net.go
package utils

import (
	"net"
)

// GetOutboundIP 获取本机对外通信使用的 IP。
// UDP 拨号不会真的发包，只是让内核选一个出口地址。
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String(), nil
}
