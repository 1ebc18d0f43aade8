package math

// TransformCreate returns an identity transform with no parent.
func TransformCreate() *Transform {
	return TransformFromPositionRotationScale(NewVec3Zero(), NewQuatIdentity(), NewVec3One())
}

func TransformFromPosition(position Vec3) *Transform {
	return TransformFromPositionRotationScale(position, NewQuatIdentity(), NewVec3One())
}

func TransformFromPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) *Transform {
	t := &Transform{}
	t.SetPositionRotationScale(position, rotation, scale)
	t.Local = NewMat4Identity()
	t.Parent = nil
	return t
}

func (t *Transform) SetPosition(position Vec3) {
	t.Position = position
	t.IsDirty = true
}

func (t *Transform) Translate(translation Vec3) {
	t.Position = t.Position.Add(translation)
	t.IsDirty = true
}

func (t *Transform) SetRotation(rotation Quaternion) {
	t.Rotation = rotation
	t.IsDirty = true
}

func (t *Transform) Rotate(rotation Quaternion) {
	t.Rotation = t.Rotation.Mul(rotation)
	t.IsDirty = true
}

func (t *Transform) SetScale(scale Vec3) {
	t.Scale = scale
	t.IsDirty = true
}

func (t *Transform) SetPositionRotationScale(position Vec3, rotation Quaternion, scale Vec3) {
	t.Position = position
	t.Rotation = rotation
	t.Scale = scale
	t.IsDirty = true
}

// SetParent links t under parent. Passing nil detaches it.
func (t *Transform) SetParent(parent *Transform) {
	t.Parent = parent
}

/**
 * @brief Returns the local matrix, rebuilding it first if the position,
 * rotation or scale changed since the last call.
 */
func (t *Transform) GetLocal() Mat4 {
	if t != nil {
		if t.IsDirty {
			m := t.Rotation.ToMat4()
			tr := m.Mul(NewMat4Translation(t.Position))
			s := NewMat4Scale(t.Scale)
			tr = s.Mul(tr)
			t.Local = tr
			t.IsDirty = false
		}
		return t.Local
	}
	return NewMat4Identity()
}

/**
 * @brief Returns the world matrix: the local matrix combined with every
 * parent up the chain.
 */
func (t *Transform) GetWorld() Mat4 {
	if t != nil {
		l := t.GetLocal()
		if t.Parent != nil {
			p := t.Parent.GetWorld()
			return l.Mul(p)
		}
		return l
	}
	return NewMat4Identity()
}

// WorldPosition is the local origin carried into world space.
func (t *Transform) WorldPosition() Vec3 {
	return NewVec3Zero().Transform(t.GetWorld())
}
