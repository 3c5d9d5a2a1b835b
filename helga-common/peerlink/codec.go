package peerlink

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"helga/helga-common/models"
)

// EncodeCount 心跳计数编码为十进制 ASCII
func EncodeCount(c models.HeartbeatCounter) []byte {
	return []byte(strconv.FormatInt(int64(c), 10))
}

// DecodeCount 解析心跳计数
func DecodeCount(data []byte) (models.HeartbeatCounter, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid count payload %q: %w", data, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid count payload %q: negative", data)
	}
	return models.HeartbeatCounter(v), nil
}

// EncodeLabel 结果标签编码（小写 UTF-8）
func EncodeLabel(label string) []byte {
	return []byte(strings.ToLower(label))
}

// DecodeLabel 解析结果标签；空标签视为无效
func DecodeLabel(data []byte) (string, error) {
	label := strings.TrimSpace(string(data))
	if label == "" {
		return "", fmt.Errorf("empty result label")
	}
	return label, nil
}

// EncodePCM int16 采样编码为小端字节
func EncodePCM(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodePCM 小端字节解码为 int16 采样；奇数长度时丢弃最后一个字节
func DecodePCM(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}
