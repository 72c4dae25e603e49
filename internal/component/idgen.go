package component

import (
	"fmt"
	"math/rand"
	"time"
)

// IDSource 生成指令 ID。提取流程本身无共享状态，
// 唯一的非确定性来源就是这里，测试中可注入固定序列。
type IDSource func() string

// DefaultID 时间戳 + 随机后缀。ID 只在单次渲染批次内起作用，
// 碰撞概率低即可，不要求全局唯一。
func DefaultID() string {
	return fmt.Sprintf("mg-%d-%06x", time.Now().UnixMilli(), rand.Intn(1<<24))
}
