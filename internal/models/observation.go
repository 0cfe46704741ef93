package models

import "math"

// Point 归一化坐标点（x,y ∈ [0,1]，相对于帧宽高）
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CenteredWithin 判断点是否落在帧中心 (0.5,0.5) 的容差范围内
// 两轴同时满足才算居中；恰好等于容差视为不居中
func (p Point) CenteredWithin(tolerance float64) bool {
	return math.Abs(p.X-0.5) < tolerance && math.Abs(p.Y-0.5) < tolerance
}

// ManhattanDistanceTo 两点的曼哈顿距离
func (p Point) ManhattanDistanceTo(other Point) float64 {
	return math.Abs(p.X-other.X) + math.Abs(p.Y-other.Y)
}

// Box 归一化边界框
type Box struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center 边界框中心点
func (b Box) Center() Point {
	return Point{
		X: b.X + b.Width/2,
		Y: b.Y + b.Height/2,
	}
}

// Descriptor 人脸特征向量（固定长度的数值嵌入）
type Descriptor []float64

// Pose 单人骨架检测结果（至少包含鼻部关键点）
type Pose struct {
	Nose       Point   `json:"nose"`
	Confidence float64 `json:"confidence"`
}

// Face 人脸检测结果（边界框 + 可选特征向量 + 关键点）
type Face struct {
	Box        Box        `json:"box"`
	Descriptor Descriptor `json:"descriptor,omitempty"`
	Landmarks  []Point    `json:"landmarks,omitempty"`
	Confidence float64    `json:"confidence"`
}

// DetectedObject 物体分类结果
type DetectedObject struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Observation 一次评估周期的感知快照（不持久化，仅在tick内有效）
// Lighting 来自采集层，用于采集光照带检查
type Observation struct {
	Timestamp int64            `json:"timestamp"`
	Poses     []Pose           `json:"poses"`
	Faces     []Face           `json:"faces"`
	Objects   []DetectedObject `json:"objects"`
	Lighting  float64          `json:"lighting"`
}

// Frame 采集源输出的视频帧
// Lighting 为采集层测量的归一化亮度（0=全黑, 1=全亮）
type Frame struct {
	Data     []byte
	Width    int
	Height   int
	Lighting float64
}
