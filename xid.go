package goxa

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var ErrInvalidXid = errors.New("invalid xid: global transaction id and branch qualifier must not be nil")

// Xid 全局事务标识，由 format id、全局事务 id、分支标识组成. 不可变
type Xid struct {
	formatID int32
	gtrid    []byte
	bqual    []byte
}

// NewXid 构造 xid. 空切片合法，表示没有分支
func NewXid(formatID int32, gtrid, bqual []byte) (Xid, error) {
	if gtrid == nil || bqual == nil {
		return Xid{}, ErrInvalidXid
	}
	return Xid{
		formatID: formatID,
		gtrid:    append([]byte{}, gtrid...),
		bqual:    append([]byte{}, bqual...),
	}, nil
}

// MustXid 用于测试与固定 xid 的场景
func MustXid(formatID int32, gtrid, bqual []byte) Xid {
	xid, err := NewXid(formatID, gtrid, bqual)
	if err != nil {
		panic(err)
	}
	return xid
}

func (x Xid) FormatID() int32 {
	return x.formatID
}

func (x Xid) GlobalTransactionID() []byte {
	return append([]byte{}, x.gtrid...)
}

func (x Xid) BranchQualifier() []byte {
	return append([]byte{}, x.bqual...)
}

func (x Xid) Equal(other Xid) bool {
	return x.formatID == other.formatID && bytes.Equal(x.gtrid, other.gtrid) && bytes.Equal(x.bqual, other.bqual)
}

// SameGlobal 判断两个 xid 是否属于同一笔全局事务的不同分支
func (x Xid) SameGlobal(other Xid) bool {
	return x.formatID == other.formatID && bytes.Equal(x.gtrid, other.gtrid)
}

// Key 作为 map 的索引使用，与 String 一致
func (x Xid) Key() string {
	return x.String()
}

func (x Xid) String() string {
	branch := "null"
	if len(x.bqual) > 0 {
		branch = hex.EncodeToString(x.bqual)
	}
	return fmt.Sprintf("global:%s branch:%s format:%d", hex.EncodeToString(x.gtrid), branch, x.formatID)
}

// MarshalText 编码为 format.gtrid.bqual，gtrid 与 bqual 为十六进制
func (x Xid) MarshalText() ([]byte, error) {
	return []byte(fmt.Sprintf("%d.%s.%s", x.formatID, hex.EncodeToString(x.gtrid), hex.EncodeToString(x.bqual))), nil
}

func (x *Xid) UnmarshalText(text []byte) error {
	xid, err := ParseXid(string(text))
	if err != nil {
		return err
	}
	*x = xid
	return nil
}

// ParseXid 解析 MarshalText 的输出
func ParseXid(text string) (Xid, error) {
	parts := strings.Split(text, ".")
	if len(parts) != 3 {
		return Xid{}, fmt.Errorf("invalid xid text: %s", text)
	}
	formatID, err := strconv.ParseInt(parts[0], 10, 32)
	if err != nil {
		return Xid{}, fmt.Errorf("invalid xid format id: %s", parts[0])
	}
	gtrid, err := hex.DecodeString(parts[1])
	if err != nil {
		return Xid{}, fmt.Errorf("invalid xid global transaction id: %s", parts[1])
	}
	bqual, err := hex.DecodeString(parts[2])
	if err != nil {
		return Xid{}, fmt.Errorf("invalid xid branch qualifier: %s", parts[2])
	}
	return NewXid(int32(formatID), append([]byte{}, gtrid...), append([]byte{}, bqual...))
}
