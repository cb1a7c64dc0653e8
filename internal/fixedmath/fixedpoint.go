// Package fixedmath implements 18-decimal fixed-point arithmetic with
// explicit rounding directions. Every multiply and divide comes in a
// round-down and a round-up variant; callers pick the direction that favors
// the pool. Pow is computed as exp(y*ln(x)) over signed 18-decimal values
// using rational approximations in 2**96 basis.
package fixedmath

import (
	"fmt"
	"math/big"
	"strings"
)

// FixedPoint is an unsigned 18-decimal fixed-point number. Values are
// immutable: every operation allocates a fresh result. The zero value is
// usable and equals 0.
type FixedPoint struct {
	v *big.Int
}

var (
	bigOne  = big.NewInt(1)
	bigTen  = big.NewInt(10)
	scale   = new(big.Int).Exp(bigTen, big.NewInt(18), nil) // 1e18
	halfOne = new(big.Int).Rsh(scale, 1)
)

// Zero returns the fixed-point zero.
func Zero() FixedPoint { return FixedPoint{} }

// One returns the fixed-point one (1e18 raw).
func One() FixedPoint { return FixedPoint{v: new(big.Int).Set(scale)} }

// New wraps a raw 18-decimal integer. Panics on negative input.
func New(raw *big.Int) FixedPoint {
	if raw.Sign() < 0 {
		panic(fmt.Sprintf("fixedmath: negative value %s", raw))
	}
	return FixedPoint{v: new(big.Int).Set(raw)}
}

// FromUint64 interprets n as a raw 18-decimal value (NOT scaled).
func FromUint64(n uint64) FixedPoint {
	return FixedPoint{v: new(big.Int).SetUint64(n)}
}

// Scaled returns n * 1e18.
func Scaled(n uint64) FixedPoint {
	v := new(big.Int).SetUint64(n)
	return FixedPoint{v: v.Mul(v, scale)}
}

// FromDec parses a decimal string such as "1.5" or "0.0001" into a
// fixed-point value. Negative values and more than 18 decimals are rejected.
func FromDec(s string) (FixedPoint, error) {
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if len(fracPart) > 18 {
		return FixedPoint{}, fmt.Errorf("fixedmath: too many decimals in %q", s)
	}
	fracPart += strings.Repeat("0", 18-len(fracPart))
	v, ok := new(big.Int).SetString(intPart+fracPart, 10)
	if !ok || v.Sign() < 0 {
		return FixedPoint{}, fmt.Errorf("fixedmath: malformed decimal %q", s)
	}
	return FixedPoint{v: v}, nil
}

// MustFromDec is FromDec for constants and tests; panics on malformed input.
func MustFromDec(s string) FixedPoint {
	f, err := FromDec(s)
	if err != nil {
		panic(err.Error())
	}
	return f
}

func (f FixedPoint) raw() *big.Int {
	if f.v == nil {
		return new(big.Int)
	}
	return f.v
}

// Raw returns a copy of the underlying 18-decimal integer.
func (f FixedPoint) Raw() *big.Int { return new(big.Int).Set(f.raw()) }

// BigInt returns the underlying integer as a signed big.Int copy.
// Identical to Raw; kept for call sites mixing signed arithmetic.
func (f FixedPoint) BigInt() *big.Int { return f.Raw() }

func (f FixedPoint) IsZero() bool { return f.raw().Sign() == 0 }

func (f FixedPoint) Cmp(o FixedPoint) int { return f.raw().Cmp(o.raw()) }
func (f FixedPoint) Eq(o FixedPoint) bool { return f.Cmp(o) == 0 }
func (f FixedPoint) Lt(o FixedPoint) bool { return f.Cmp(o) < 0 }
func (f FixedPoint) Lte(o FixedPoint) bool { return f.Cmp(o) <= 0 }
func (f FixedPoint) Gt(o FixedPoint) bool { return f.Cmp(o) > 0 }
func (f FixedPoint) Gte(o FixedPoint) bool { return f.Cmp(o) >= 0 }

func Min(a, b FixedPoint) FixedPoint {
	if a.Lte(b) {
		return a
	}
	return b
}

func Max(a, b FixedPoint) FixedPoint {
	if a.Gte(b) {
		return a
	}
	return b
}

func (f FixedPoint) Add(o FixedPoint) FixedPoint {
	return FixedPoint{v: new(big.Int).Add(f.raw(), o.raw())}
}

// Sub panics on underflow: fixed-point values are unsigned and a negative
// intermediate means a caller violated a reserve invariant.
func (f FixedPoint) Sub(o FixedPoint) FixedPoint {
	r := new(big.Int).Sub(f.raw(), o.raw())
	if r.Sign() < 0 {
		panic(fmt.Sprintf("fixedmath: underflow %s - %s", f, o))
	}
	return FixedPoint{v: r}
}

// SubSat returns f - o, clamped at zero.
func (f FixedPoint) SubSat(o FixedPoint) FixedPoint {
	r := new(big.Int).Sub(f.raw(), o.raw())
	if r.Sign() < 0 {
		return Zero()
	}
	return FixedPoint{v: r}
}

// MulDivDown returns (f * o) / d, truncating.
func (f FixedPoint) MulDivDown(o, d FixedPoint) FixedPoint {
	if d.IsZero() {
		panic("fixedmath: division by zero")
	}
	r := new(big.Int).Mul(f.raw(), o.raw())
	return FixedPoint{v: r.Quo(r, d.raw())}
}

// MulDivUp returns (f * o) / d, adding one when a remainder exists.
func (f FixedPoint) MulDivUp(o, d FixedPoint) FixedPoint {
	if d.IsZero() {
		panic("fixedmath: division by zero")
	}
	p := new(big.Int).Mul(f.raw(), o.raw())
	q, m := new(big.Int).QuoRem(p, d.raw(), new(big.Int))
	if m.Sign() > 0 {
		q.Add(q, bigOne)
	}
	return FixedPoint{v: q}
}

func (f FixedPoint) MulDown(o FixedPoint) FixedPoint { return f.MulDivDown(o, One()) }
func (f FixedPoint) MulUp(o FixedPoint) FixedPoint   { return f.MulDivUp(o, One()) }
func (f FixedPoint) DivDown(o FixedPoint) FixedPoint { return f.MulDivDown(One(), o) }
func (f FixedPoint) DivUp(o FixedPoint) FixedPoint   { return f.MulDivUp(One(), o) }

// Pow returns f**y using ln/exp: x^y = e^(y * ln(x)).
func (f FixedPoint) Pow(y FixedPoint) FixedPoint {
	if y.IsZero() {
		return One()
	}
	if f.IsZero() {
		return Zero()
	}
	lnx := lnInt(f.raw())
	ylnx := new(big.Int).Mul(y.raw(), lnx)
	ylnx.Quo(ylnx, scale)
	return FixedPoint{v: expInt(ylnx)}
}

// String renders the value as a decimal with trailing zeros trimmed.
func (f FixedPoint) String() string {
	q, r := new(big.Int).QuoRem(f.raw(), scale, new(big.Int))
	if r.Sign() == 0 {
		return q.String()
	}
	frac := fmt.Sprintf("%018s", r.String())
	frac = strings.TrimRight(frac, "0")
	return q.String() + "." + frac
}

func mustBig(s string) *big.Int {
	v, ok := new(big.Int).SetString(s, 0)
	if !ok {
		panic("fixedmath: bad constant " + s)
	}
	return v
}

var (
	expMinInput = mustBig("-42139678854452767551")
	expMaxInput = mustBig("135305999368893231589")
	ln2Basis96  = mustBig("54916777467707473351141471128") // ln(2) * 2**96
	pow5To18    = new(big.Int).Exp(big.NewInt(5), big.NewInt(18), nil)
	two95       = new(big.Int).Lsh(bigOne, 95)

	expP0 = mustBig("1346386616545796478920950773328")
	expP1 = mustBig("57155421227552351082224309758442")
	expP2 = mustBig("94201549194550492254356042504812")
	expP3 = mustBig("28719021644029726153956944680412240")
	expP4 = new(big.Int).Lsh(mustBig("4385272521454847904659076985693276"), 96)

	expQ0 = mustBig("2855989394907223263936484059900")
	expQ1 = mustBig("50020603652535783019961831881945")
	expQ2 = mustBig("533845033583426703283633433725380")
	expQ3 = mustBig("3604857256930695427073651918091429")
	expQ4 = mustBig("14423608567350463180887372962807573")
	expQ5 = mustBig("26449188498355588339934803723976023")

	expScale = mustBig("0x29d9dc38563c32e5c2f6dc192ee70ef65f9978af3")

	lnP0 = mustBig("3273285459638523848632254066296")
	lnP1 = mustBig("24828157081833163892658089445524")
	lnP2 = mustBig("43456485725739037958740375743393")
	lnP3 = mustBig("11111509109440967052023855526967")
	lnP4 = mustBig("45023709667254063763336534515857")
	lnP5 = mustBig("14706773417378608786704636184526")
	lnP6 = new(big.Int).Lsh(mustBig("795164235651350426258249787498"), 96)

	lnQ0 = mustBig("5573035233440673466300451813936")
	lnQ1 = mustBig("71694874799317883764090561454958")
	lnQ2 = mustBig("283447036172924575727196451306956")
	lnQ3 = mustBig("401686690394027663651624208769553")
	lnQ4 = mustBig("204048457590392012362485061816622")
	lnQ5 = mustBig("31853899698501571402653359427138")
	lnQ6 = mustBig("909429971244387300277376558375")

	lnScale    = mustBig("0x1340daa0d5f769dba1915cef59f0815a5506")
	lnTwoK     = mustBig("0x267a36c0c95b3975ab3ee5b203a7614a3f75373f047d803ae7b6687f2b3")
	lnBaseTerm = mustBig("0x57115e47018c7177eebf7cd370a3356a1b7863008a5ae8028c72b8864284")
)

// asr performs an arithmetic shift right (floor division by 2**n); big.Int
// Rsh already floors for negative values.
func asr(x *big.Int, n uint) *big.Int { return new(big.Int).Rsh(x, n) }

// expInt computes e**x for a signed 18-decimal x, returning an 18-decimal
// result. Mirrors the well-known 2**96-basis rational approximation.
func expInt(x *big.Int) *big.Int {
	if x.Cmp(expMinInput) <= 0 {
		// Result rounds to zero below ~ -42e18.
		return new(big.Int)
	}
	if x.Cmp(expMaxInput) >= 0 {
		panic("fixedmath: exp input out of range")
	}

	// Convert 1e18 basis to 2**96 basis: multiply by 2**78 / 5**18.
	x = new(big.Int).Lsh(x, 78)
	x.Quo(x, pow5To18)

	// Range-reduce to (-0.5 ln2, 0.5 ln2) * 2**96: exp(x) = exp(x') * 2**k.
	k := new(big.Int).Lsh(x, 96)
	k.Quo(k, ln2Basis96)
	k.Add(k, two95)
	k = asr(k, 96)
	x.Sub(x, new(big.Int).Mul(k, ln2Basis96))

	// (6,7)-term rational approximation; p kept in 2**192 basis.
	y := new(big.Int).Add(x, expP0)
	y = asr(y.Mul(y, x), 96)
	y.Add(y, expP1)
	p := new(big.Int).Add(y, x)
	p.Sub(p, expP2)
	p = asr(p.Mul(p, y), 96)
	p.Add(p, expP3)
	p.Mul(p, x)
	p.Add(p, expP4)

	q := new(big.Int).Sub(x, expQ0)
	q = asr(q.Mul(q, x), 96)
	q.Add(q, expQ1)
	q = asr(q.Mul(q, x), 96)
	q.Sub(q, expQ2)
	q = asr(q.Mul(q, x), 96)
	q.Add(q, expQ3)
	q = asr(q.Mul(q, x), 96)
	q.Sub(q, expQ4)
	q = asr(q.Mul(q, x), 96)
	q.Add(q, expQ5)

	r := new(big.Int).Quo(p, q)

	// Scale by s * 2**k * 1e18 / 2**96 in one shot via a 2**213-basis
	// intermediate; the final shift amount 195-k is always non-negative.
	r.Mul(r, expScale)
	shift := new(big.Int).Sub(big.NewInt(195), k)
	return r.Rsh(r, uint(shift.Uint64()))
}

// lnInt computes ln(x) for a positive 18-decimal x, returning a signed
// 18-decimal result.
func lnInt(x *big.Int) *big.Int {
	if x.Sign() <= 0 {
		panic("fixedmath: ln of non-positive value")
	}

	// k = floor(log2(x)) - 96; reduce x to the range (1, 2) * 2**96.
	k := int64(x.BitLen()-1) - 96
	x = new(big.Int).Lsh(x, uint(159-k))
	x.Rsh(x, 159)

	// (8,8)-term rational approximation; p kept in 2**192 basis.
	p := new(big.Int).Add(x, lnP0)
	p = asr(p.Mul(p, x), 96)
	p.Add(p, lnP1)
	p = asr(p.Mul(p, x), 96)
	p.Add(p, lnP2)
	p = asr(p.Mul(p, x), 96)
	p.Sub(p, lnP3)
	p = asr(p.Mul(p, x), 96)
	p.Sub(p, lnP4)
	p = asr(p.Mul(p, x), 96)
	p.Sub(p, lnP5)
	p.Mul(p, x)
	p.Sub(p, lnP6)

	q := new(big.Int).Add(x, lnQ0)
	q = asr(q.Mul(q, x), 96)
	q.Add(q, lnQ1)
	q = asr(q.Mul(q, x), 96)
	q.Add(q, lnQ2)
	q = asr(q.Mul(q, x), 96)
	q.Add(q, lnQ3)
	q = asr(q.Mul(q, x), 96)
	q.Add(q, lnQ4)
	q = asr(q.Mul(q, x), 96)
	q.Add(q, lnQ5)
	q = asr(q.Mul(q, x), 96)
	q.Add(q, lnQ6)

	r := new(big.Int).Quo(p, q)

	// Finalize: multiply by the scale factor, add k*ln(2) and the basis
	// conversion term, then drop back to 1e18 basis.
	r.Mul(r, lnScale)
	r.Add(r, new(big.Int).Mul(lnTwoK, big.NewInt(k)))
	r.Add(r, lnBaseTerm)
	return r.Rsh(r, 174)
}
