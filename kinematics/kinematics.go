package kinematics

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/s1"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// rankTolerance is the relative singular value cutoff below which the geometry
// is treated as degenerate.
const rankTolerance = 1e-9

// minSpeed is the wheel speed under which a module's heading is undefined.
const minSpeed = 1e-9

// Kinematics converts between chassis velocities and module states for a fixed
// module geometry. It holds no per-period state.
type Kinematics struct {
	offsets [NumModules]r2.Point
	// forward maps [vx vy omega] to the stacked [vx_i vy_i] of every module.
	forward *mat.Dense
	// inverse is the least-squares pseudoinverse of forward.
	inverse *mat.Dense
}

// New builds the kinematics for modules at the given offsets from the center
// of rotation (x forward, y left, metres). Geometry that cannot recover all
// three chassis axes is rejected.
func New(offsets [NumModules]r2.Point) (*Kinematics, error) {
	forward := mat.NewDense(2*NumModules, 3, nil)
	for i, o := range offsets {
		if math.IsNaN(o.X) || math.IsNaN(o.Y) || math.IsInf(o.X, 0) || math.IsInf(o.Y, 0) {
			return nil, errors.Errorf("module %s has a non-finite offset", ModuleNames[i])
		}
		forward.SetRow(2*i, []float64{1, 0, -o.Y})
		forward.SetRow(2*i+1, []float64{0, 1, o.X})
	}

	var svd mat.SVD
	if ok := svd.Factorize(forward, mat.SVDThin); !ok {
		return nil, errors.New("could not factorize module geometry")
	}
	if rank := svd.Rank(rankTolerance); rank < 3 {
		return nil, errors.Errorf("degenerate module geometry: rank %d, need 3", rank)
	}

	ones := make([]float64, 2*NumModules)
	for i := range ones {
		ones[i] = 1
	}
	var inverse mat.Dense
	if err := inverse.Solve(forward, mat.NewDiagDense(2*NumModules, ones)); err != nil {
		return nil, errors.Wrap(err, "could not invert module geometry")
	}

	return &Kinematics{
		offsets: offsets,
		forward: forward,
		inverse: &inverse,
	}, nil
}

// Offsets returns the module offsets in module order.
func (k *Kinematics) Offsets() [NumModules]r2.Point {
	return k.offsets
}

// DriveBaseRadius is the distance from the center of rotation to the furthest module.
func (k *Kinematics) DriveBaseRadius() float64 {
	var r float64
	for _, o := range k.offsets {
		r = math.Max(r, o.Norm())
	}
	return r
}

// ToModuleStates returns the state every module needs to produce the chassis
// velocity. A module with no required motion keeps its fallback angle instead
// of an undefined atan2(0, 0).
func (k *Kinematics) ToModuleStates(speeds ChassisSpeeds, fallback [NumModules]s1.Angle) [NumModules]ModuleState {
	var v mat.VecDense
	v.MulVec(k.forward, mat.NewVecDense(3, []float64{speeds.Vx, speeds.Vy, speeds.Omega}))

	var states [NumModules]ModuleState
	for i := range states {
		x, y := v.AtVec(2*i), v.AtVec(2*i+1)
		speed := math.Hypot(x, y)
		if speed < minSpeed {
			states[i] = ModuleState{Angle: fallback[i]}
			continue
		}
		states[i] = ModuleState{
			Speed: speed,
			Angle: NormalizeAngle(s1.Angle(math.Atan2(y, x))),
		}
	}
	return states
}

// ToChassisSpeeds returns the chassis velocity that best explains the given
// module states.
func (k *Kinematics) ToChassisSpeeds(states [NumModules]ModuleState) ChassisSpeeds {
	b := mat.NewVecDense(2*NumModules, nil)
	for i, s := range states {
		x, y := s.Velocity()
		b.SetVec(2*i, x)
		b.SetVec(2*i+1, y)
	}
	out := k.solve(b)
	return ChassisSpeeds{Vx: out[0], Vy: out[1], Omega: out[2]}
}

// ToTwist returns the robot-relative displacement produced by the given
// per-module distance deltas.
func (k *Kinematics) ToTwist(deltas [NumModules]ModulePosition) Twist {
	b := mat.NewVecDense(2*NumModules, nil)
	for i, d := range deltas {
		sin, cos := math.Sincos(d.Angle.Radians())
		b.SetVec(2*i, d.Distance*cos)
		b.SetVec(2*i+1, d.Distance*sin)
	}
	out := k.solve(b)
	return Twist{Dx: out[0], Dy: out[1], Dtheta: out[2]}
}

func (k *Kinematics) solve(b *mat.VecDense) [3]float64 {
	var out mat.VecDense
	out.MulVec(k.inverse, b)
	return [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// Desaturate scales every module speed by the same factor so that none exceeds
// maxSpeed. States already within the limit are returned unchanged.
func Desaturate(states [NumModules]ModuleState, maxSpeed float64) [NumModules]ModuleState {
	var top float64
	for _, s := range states {
		top = math.Max(top, math.Abs(s.Speed))
	}
	if maxSpeed <= 0 || top <= maxSpeed {
		return states
	}
	scale := maxSpeed / top
	for i := range states {
		states[i].Speed *= scale
	}
	return states
}
